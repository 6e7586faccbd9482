// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodePermissionDenied     = "PERMISSION_DENIED"
	ErrCodeAlreadyRegistered    = "ALREADY_REGISTERED"
	ErrCodeNoActiveConversation = "NO_ACTIVE_CONVERSATION"
	ErrCodeRemoteServiceFailure = "REMOTE_SERVICE_FAILURE"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmptyMessage         = "EMPTY_MESSAGE"
	ErrCodeSelfConversation     = "SELF_CONVERSATION"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeProfileNotFound      = "PROFILE_NOT_FOUND"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeAdminDeletionFailed  = "ADMIN_DELETION_FAILED"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "You must be signed in to do this.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
func NewPermissionDeniedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  fmt.Sprintf("Permission denied: %s", reason),
		Category: "auth",
		Action:   "Ask an administrator if you need access.",
	}
}

// NewAlreadyRegisteredError は登録済みアカウントエラーを生成する。
func NewAlreadyRegisteredError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  fmt.Sprintf("An account for %s is already registered.", email),
		Category: "auth",
		Action:   "Sign in instead, or use another email address.",
	}
}

// NewNoActiveConversationError は送信先の会話が未選択のエラーを生成する。
func NewNoActiveConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveConversation,
		Message:  "No conversation is selected.",
		Category: "chat",
		Action:   "Open a conversation before sending a message.",
	}
}

// NewRemoteServiceFailureError はバックエンド呼び出しの失敗を表すエラーを生成する。
// バックエンドのメッセージはそのまま表示用に保持する。
func NewRemoteServiceFailureError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteServiceFailure,
		Message:  message,
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewEmptyMessageError は空メッセージエラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "Message content must not be empty.",
		Category: "validation",
		Action:   "Type a message before sending.",
	}
}

// NewSelfConversationError は自分自身との会話開始エラーを生成する。
func NewSelfConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfConversation,
		Message:  "You cannot start a conversation with yourself.",
		Category: "chat",
		Action:   "Choose another user to contact.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Check the user ID.",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("Profile not found: %s", id),
		Category: "auth",
		Action:   "Check the user ID.",
	}
}

// NewConversationNotFoundError は会話が見つからない場合のエラーを生成する。
func NewConversationNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("Conversation not found: %d", id),
		Category: "chat",
		Action:   "Reload your conversations.",
	}
}

// NewInvalidRequestError は入力値不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the input and try again.",
	}
}

// 管理者によるユーザー削除の手順名。
const (
	DeletionStepPrivileged      = "privileged-deletion"
	DeletionStepProfileFallback = "profile-fallback-deletion"
)

// AdminDeletionError は管理者によるユーザー削除の失敗を表す。
// Stepは失敗した手順を示す。特権削除に失敗してプロフィールのみ削除できた場合は
// StepがDeletionStepPrivilegedとなり、資格情報が孤立している。
type AdminDeletionError struct {
	UserID      string
	Step        string
	Err         error // 特権削除のエラー
	FallbackErr error // プロフィール削除のエラー（Step=DeletionStepProfileFallbackの場合のみ）
}

// Error はerrorインターフェースを実装する。
func (e *AdminDeletionError) Error() string {
	if e.FallbackErr != nil {
		return fmt.Sprintf("[%s] deleting user %s failed at %s: %v (privileged deletion: %v)",
			ErrCodeAdminDeletionFailed, e.UserID, e.Step, e.FallbackErr, e.Err)
	}
	return fmt.Sprintf("[%s] deleting user %s failed at %s: %v",
		ErrCodeAdminDeletionFailed, e.UserID, e.Step, e.Err)
}

// Unwrap は特権削除の元のエラーを返す。
func (e *AdminDeletionError) Unwrap() error {
	return e.Err
}

// CredentialOrphaned はプロフィールのみ削除され資格情報が残っているかを返す。
func (e *AdminDeletionError) CredentialOrphaned() bool {
	return e.Step == DeletionStepPrivileged
}
