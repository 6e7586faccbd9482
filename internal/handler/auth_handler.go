// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/auth"
	"github.com/hitoshi/rentnest/internal/middleware"
	"github.com/hitoshi/rentnest/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, req model.SignupRequest) (*auth.TokenResult, error)
	Login(ctx context.Context, email, password string) (*auth.TokenResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentIdentity(ctx context.Context, userID string) (*model.Identity, error)
}

// AuthAttemptRecorder は認証操作の結果を記録するインターフェース。
type AuthAttemptRecorder interface {
	RecordAuthAttempt(operation string, success bool)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder AuthAttemptRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, recorder AuthAttemptRecorder) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
	}
}

// Signup は資格情報と初期プロフィールを登録し、アクセストークンを返す。
// POST /auth/v1/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Signup(r.Context(), req.ToModel())
	h.record("signup", err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTokenResponse(result))
}

// Token はパスワードログインを処理する。
// POST /auth/v1/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	h.record("login", err == nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// Logout はリクエストのセッションを破棄する。
// POST /auth/v1/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	if err := h.service.Logout(r.Context(), sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// User はトークンに紐付く認証主体を返す。
// GET /auth/v1/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	identity, err := h.service.CurrentIdentity(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.UserFromModel(identity))
}

func (h *AuthHandler) record(operation string, success bool) {
	if h.recorder != nil {
		h.recorder.RecordAuthAttempt(operation, success)
	}
}

func toTokenResponse(result *auth.TokenResult) api.TokenResponse {
	return api.TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   result.ExpiresAt,
		User:        api.UserFromModel(result.Identity),
	}
}
