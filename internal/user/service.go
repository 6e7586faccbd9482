// Package user はユーザー管理のドメインロジックを提供する。
// 一覧取得と削除は管理者のみが実行できる特権操作である。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/repository"
)

// ProfileReader は呼び出し元のロール確認と一覧取得に使うインターフェース。
type ProfileReader interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	ListAll(ctx context.Context) ([]*model.Profile, error)
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profiles    ProfileReader
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profiles ProfileReader,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
	}
}

// ListUsers は全ユーザーのプロフィールを返す。呼び出し元がadminでなければPERMISSION_DENIED。
func (s *Service) ListUsers(ctx context.Context, callerID string) ([]*model.Profile, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}

	profiles, err := s.profiles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// DeleteUser は資格情報とプロフィールを削除する特権操作。
// 削除順序: sessions → users（+ CASCADE: profiles, conversations, messages）
// 自分自身の削除は拒否する。
func (s *Service) DeleteUser(ctx context.Context, callerID, targetID string) error {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if targetID == callerID {
		return model.NewPermissionDeniedError("administrators cannot delete their own account")
	}

	// ユーザー存在確認
	cred, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if cred == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("ユーザー削除を開始します",
		slog.String("admin_id", callerID),
		slog.String("user_id", targetID),
	)

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, targetID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除（profiles, conversations, messagesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, targetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザー削除が完了しました",
		slog.String("admin_id", callerID),
		slog.String("user_id", targetID),
	)

	return nil
}

// requireAdmin は呼び出し元のプロフィールがadminロールであることを確認する。
func (s *Service) requireAdmin(ctx context.Context, callerID string) error {
	if callerID == "" {
		return model.NewNotAuthenticatedError()
	}
	profile, err := s.profiles.FindByID(ctx, callerID)
	if err != nil {
		return fmt.Errorf("呼び出し元プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil || profile.Role != model.RoleAdmin {
		return model.NewPermissionDeniedError("administrator role required")
	}
	return nil
}
