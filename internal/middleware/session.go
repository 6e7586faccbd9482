// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/rentnest/internal/auth"
	"github.com/hitoshi/rentnest/internal/model"
)

// accessTokenQueryParam はWebSocket接続時にトークンを渡すクエリパラメータ名。
// ブラウザのWebSocket APIはヘッダーを設定できないため、アップグレード要求に限り許可する。
const accessTokenQueryParam = "access_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
	sessionIDContextKey = contextKey("session_id")
	// userIDHolderContextKey はアクセスログ用にユーザーIDを書き戻す先のキー。
	userIDHolderContextKey = contextKey("user_id_holder")
)

// userIDHolder は内側のミドルウェアで判明したユーザーIDを外側へ伝える。
type userIDHolder struct {
	userID string
}

func contextWithUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderContextKey, h)
}

// withUserIDHolder はリクエストにholderがなければ追加する。
// 外側のミドルウェアが先に追加していればそれを共有する。
func withUserIDHolder(r *http.Request) (*http.Request, *userIDHolder) {
	if h, ok := r.Context().Value(userIDHolderContextKey).(*userIDHolder); ok {
		return r, h
	}
	h := &userIDHolder{}
	return r.WithContext(contextWithUserIDHolder(r.Context(), h)), h
}

func recordUserID(ctx context.Context, userID string) {
	if h, ok := ctx.Value(userIDHolderContextKey).(*userIDHolder); ok {
		h.userID = userID
	}
}

// TokenAuthenticator はアクセストークンの検証に必要なインターフェース。
// auth.Serviceが満たす。
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.Principal, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションIDをリクエストコンテキストに注入する。
// 未認証リクエストには401を統一エラーフォーマットで返す。
func NewBearerAuthMiddleware(authenticator TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. リクエストからトークンを取得
			token := tokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			// 2. トークンとセッションの有効性を検証
			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 認証主体をコンテキストに注入
			ctx := ContextWithPrincipal(r.Context(), principal.UserID, principal.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest はAuthorizationヘッダー、またはWebSocketアップグレード要求の
// クエリパラメータからアクセストークンを取り出す。
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get(accessTokenQueryParam)
	}
	return ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	recordUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithPrincipal はコンテキストにユーザーIDとセッションIDを注入する。
func ContextWithPrincipal(ctx context.Context, userID, sessionID string) context.Context {
	recordUserID(ctx, userID)
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
