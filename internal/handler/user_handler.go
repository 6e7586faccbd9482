package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/model"
)

// UserServiceInterface は管理者向けユーザー操作のサービスインターフェース。
type UserServiceInterface interface {
	// ListUsers は全ユーザーのプロフィールを返す。管理者のみ。
	ListUsers(ctx context.Context, callerID string) ([]*model.Profile, error)
	// DeleteUser は資格情報とプロフィールを削除する。管理者のみ、自分自身は不可。
	DeleteUser(ctx context.Context, callerID, targetID string) error
}

// UserHandler は管理者向けユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// ListUsers は全ユーザーのプロフィール一覧を返す。
// GET /rest/v1/profiles
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	profiles, err := h.service.ListUsers(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]api.ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, api.ProfileFromModel(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteUser は特権削除で資格情報とプロフィールを削除する。
// POST /functions/v1/delete-user
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req api.DeleteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		handleServiceError(w, model.NewInvalidRequestError("user_id is required"))
		return
	}

	if err := h.service.DeleteUser(r.Context(), userID, target); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
