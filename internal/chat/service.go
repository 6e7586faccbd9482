// Package chat は会話とメッセージの保存、およびアクセス制御を提供する。
// 会話・メッセージは参加者のみが参照・投稿できる。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/repository"
	"github.com/hitoshi/rentnest/internal/security"
)

// EventPublisher はメッセージ作成のドメインイベントを外部に通知するインターフェース。
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, msg *model.Message) error
}

// Service は会話・メッセージのサービス層。
type Service struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	sanitizer     security.TextSanitizer
	publisher     EventPublisher
}

// NewService はServiceを生成する。publisherはnilでもよい。
func NewService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	sanitizer security.TextSanitizer,
	publisher EventPublisher,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		sanitizer:     sanitizer,
		publisher:     publisher,
	}
}

// ListConversations は呼び出し元が参加する会話を最終アクティビティの新しい順に返す。
func (s *Service) ListConversations(ctx context.Context, callerID string) ([]*model.Conversation, error) {
	if callerID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	convs, err := s.conversations.ListByParticipant(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// FindBetween は2人の参加者（順序不問）の会話を返す。存在しない場合はnil。
// 呼び出し元はペアの一方でなければならない。
func (s *Service) FindBetween(ctx context.Context, callerID, a, b string) (*model.Conversation, error) {
	if err := checkPair(callerID, a, b); err != nil {
		return nil, err
	}
	conv, err := s.conversations.FindByParticipants(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation は会話を作成する。同じペアの会話が既に存在する場合はそれを返す。
func (s *Service) CreateConversation(ctx context.Context, callerID, participantOne, participantTwo string) (*model.Conversation, error) {
	if err := checkPair(callerID, participantOne, participantTwo); err != nil {
		return nil, err
	}

	conv, created, err := s.conversations.Create(ctx, participantOne, participantTwo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if created {
		slog.Info("conversation created",
			slog.Int64("conversation_id", conv.ID),
			slog.String("user_id", callerID),
		)
	}
	return conv, nil
}

// ListMessages は会話のメッセージを作成日時の昇順で返す。参加者のみ参照できる。
func (s *Service) ListMessages(ctx context.Context, callerID string, conversationID int64) ([]*model.Message, error) {
	if _, err := s.participantConversation(ctx, callerID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// SendMessage は呼び出し元を送信者としてメッセージを挿入する。
// 本文はマークアップを除去した後に空であればEMPTY_MESSAGEを返す。
func (s *Service) SendMessage(ctx context.Context, callerID string, conversationID int64, content string) (*model.Message, error) {
	// 1. 本文の検証
	if s.sanitizer != nil {
		content = s.sanitizer.SanitizeText(content)
	}
	if content == "" {
		return nil, model.NewEmptyMessageError()
	}

	// 2. 参加者であることを確認
	if _, err := s.participantConversation(ctx, callerID, conversationID); err != nil {
		return nil, err
	}

	// 3. 挿入（リアルタイム通知はDBトリガーが発行する）
	msg, err := s.messages.Create(ctx, model.NewMessage{
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        content,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewConversationNotFoundError(conversationID)
		}
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	// 4. ドメインイベントを通知（失敗しても送信は成功扱い）
	if s.publisher != nil {
		if err := s.publisher.PublishMessageCreated(ctx, msg); err != nil {
			slog.Warn("failed to publish message event",
				slog.Int64("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return msg, nil
}

// participantConversation は会話を取得し、呼び出し元が参加者であることを確認する。
func (s *Service) participantConversation(ctx context.Context, callerID string, conversationID int64) (*model.Conversation, error) {
	if callerID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	// 参加者以外には存在自体を見せない
	if conv == nil || !conv.HasParticipant(callerID) {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	return conv, nil
}

// checkPair は会話ペアの妥当性と呼び出し元の参加を確認する。
func checkPair(callerID, a, b string) error {
	if callerID == "" {
		return model.NewNotAuthenticatedError()
	}
	if a == "" || b == "" {
		return model.NewInvalidRequestError("both participants are required")
	}
	if a == b {
		return model.NewSelfConversationError()
	}
	if callerID != a && callerID != b {
		return model.NewPermissionDeniedError("you must be a participant of the conversation")
	}
	return nil
}
