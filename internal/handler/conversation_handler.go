package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/model"
)

// ChatServiceInterface は会話・メッセージハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	ListConversations(ctx context.Context, callerID string) ([]*model.Conversation, error)
	FindBetween(ctx context.Context, callerID, a, b string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, callerID, participantOne, participantTwo string) (*model.Conversation, error)
	ListMessages(ctx context.Context, callerID string, conversationID int64) ([]*model.Message, error)
	SendMessage(ctx context.Context, callerID string, conversationID int64, content string) (*model.Message, error)
}

// MessageSentRecorder はメッセージ送信を記録するインターフェース。
type MessageSentRecorder interface {
	RecordMessageSent()
}

// ConversationHandler は会話とメッセージのHTTPハンドラー。
type ConversationHandler struct {
	service  ChatServiceInterface
	recorder MessageSentRecorder
}

// NewConversationHandler はConversationHandlerを生成する。recorderはnilでもよい。
func NewConversationHandler(service ChatServiceInterface, recorder MessageSentRecorder) *ConversationHandler {
	return &ConversationHandler{
		service:  service,
		recorder: recorder,
	}
}

// ListConversations は呼び出し元が参加する会話一覧を返す。
// GET /rest/v1/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	convs, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]api.ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, api.ConversationFromModel(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// FindBetween は2人の参加者（順序不問）の会話を0件または1件の配列で返す。
// GET /rest/v1/conversations/between?a=&b=
func (h *ConversationHandler) FindBetween(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	conv, err := h.service.FindBetween(r.Context(), userID, q.Get("a"), q.Get("b"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]api.ConversationResponse, 0, 1)
	if conv != nil {
		resp = append(resp, api.ConversationFromModel(conv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateConversation は会話を作成する。同じペアの会話が既に存在する場合はそれを返す。
// POST /rest/v1/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req api.CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), userID, req.ParticipantOneID, req.ParticipantTwoID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ConversationFromModel(conv))
}

// ListMessages は会話のメッセージを作成日時の昇順で返す。
// GET /rest/v1/conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conversationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || conversationID <= 0 {
		handleServiceError(w, model.NewInvalidRequestError("conversation id must be a positive integer"))
		return
	}

	msgs, err := h.service.ListMessages(r.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]api.MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, api.MessageFromModel(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage は呼び出し元を送信者としてメッセージを挿入する。
// POST /rest/v1/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req api.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID <= 0 {
		handleServiceError(w, model.NewInvalidRequestError("conversation_id is required"))
		return
	}

	msg, err := h.service.SendMessage(r.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordMessageSent()
	}

	writeJSON(w, http.StatusCreated, api.MessageFromModel(msg))
}
