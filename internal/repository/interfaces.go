// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/rentnest/internal/model"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しない場合に返される。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約違反の場合に返される。
	ErrDuplicate = errors.New("duplicate record")
)

// UserRepository は資格情報（users）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDの資格情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Credential, error)

	// FindByEmail はメールアドレスで資格情報を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// CreateWithProfile は資格情報とプロフィールを同一トランザクションで作成する。
	// メールアドレスが登録済みの場合はErrDuplicateを返す。
	CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error

	// DeleteByID は指定IDの資格情報を削除する。
	// 関連するprofiles、sessions、conversations、messagesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// ListAll は全プロフィールをメールアドレス付きで作成日時順に返す。
	ListAll(ctx context.Context) ([]*model.Profile, error)

	// Update はプロフィールを部分更新し、更新後の行を返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error)

	// DeleteByID はプロフィール行のみを削除する。
	// 見つからない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// ConversationRepository は会話の永続化インターフェース。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Conversation, error)

	// FindByParticipants は参加者ペア（順序不問）の会話を取得する。
	// 見つからない場合はnilを返す。
	FindByParticipants(ctx context.Context, a, b string) (*model.Conversation, error)

	// ListByParticipant は指定ユーザーが参加する会話を、参加者の表示名と
	// 最新メッセージ付きで最終アクティビティの新しい順に返す。
	ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)

	// Create は会話を作成する。同じペアの会話が既に存在する場合は
	// 既存の会話を返し、createdはfalseになる。
	// 参加者のユーザーが存在しない場合はErrNotFoundを返す。
	Create(ctx context.Context, participantOne, participantTwo string) (conv *model.Conversation, created bool, err error)
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// ListByConversation は会話のメッセージをcreated_at昇順（同値の場合はid昇順）で返す。
	ListByConversation(ctx context.Context, conversationID int64) ([]*model.Message, error)

	// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Message, error)

	// Create はメッセージを挿入し、採番されたIDと作成日時を含む行を返す。
	// 会話が存在しない場合はErrNotFoundを返す。
	Create(ctx context.Context, msg model.NewMessage) (*model.Message, error)
}
