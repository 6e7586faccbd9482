// Package profile はプロフィールの参照・更新・削除とそのアクセス制御を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/repository"
	"github.com/hitoshi/rentnest/internal/security"
)

// Service はプロフィールのサービス層。
// 更新は本人または管理者のみ、ロール変更と削除は管理者のみに許可する。
type Service struct {
	repo      repository.ProfileRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer}
}

// Get は指定IDのプロフィールを返す。認証済みであれば誰でも参照できる。
func (s *Service) Get(ctx context.Context, callerID, id string) (*model.Profile, error) {
	if callerID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(id)
	}
	return p, nil
}

// Update はプロフィールを部分更新し、更新後のサーバー側の行を返す。
func (s *Service) Update(ctx context.Context, callerID, id string, update model.ProfileUpdate) (*model.Profile, error) {
	// 1. 呼び出し元の権限を確認
	caller, err := s.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	isAdmin := caller != nil && caller.Role == model.RoleAdmin
	if callerID != id && !isAdmin {
		return nil, model.NewPermissionDeniedError("you can only update your own profile")
	}
	if update.Role != nil && !isAdmin {
		return nil, model.NewPermissionDeniedError("only administrators can change roles")
	}

	// 2. 入力値の検証
	if update.IsEmpty() {
		return nil, model.NewInvalidRequestError("no fields to update")
	}
	if update.Role != nil && !update.Role.Valid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("unknown role %q", *update.Role))
	}
	if update.PreferredLanguage != nil && !update.PreferredLanguage.Valid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("unknown language %q", *update.PreferredLanguage))
	}
	for _, propertyID := range update.SavedProperties {
		if propertyID <= 0 {
			return nil, model.NewInvalidRequestError("property ids must be positive")
		}
	}
	update.ContactName = s.sanitize(update.ContactName)
	update.ContactPhone = s.sanitize(update.ContactPhone)

	// 3. 永続化
	updated, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if updated == nil {
		return nil, model.NewProfileNotFoundError(id)
	}

	slog.Info("profile updated",
		slog.String("user_id", callerID),
		slog.String("profile_id", id),
	)
	return updated, nil
}

// Delete はプロフィール行のみを削除する。管理者専用。
// 資格情報の削除に失敗した場合のフォールバックとして使用される。
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	caller, err := s.caller(ctx, callerID)
	if err != nil {
		return err
	}
	if caller == nil || caller.Role != model.RoleAdmin {
		return model.NewPermissionDeniedError("administrator role required")
	}
	if callerID == id {
		return model.NewPermissionDeniedError("administrators cannot delete their own profile")
	}

	if err := s.repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewProfileNotFoundError(id)
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	slog.Info("profile deleted",
		slog.String("admin_id", callerID),
		slog.String("profile_id", id),
	)
	return nil
}

// caller は呼び出し元のプロフィールを返す。プロフィールがない場合はnil。
func (s *Service) caller(ctx context.Context, callerID string) (*model.Profile, error) {
	if callerID == "" {
		return nil, model.NewNotAuthenticatedError()
	}
	p, err := s.repo.FindByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get caller profile: %w", err)
	}
	return p, nil
}

func (s *Service) sanitize(v *string) *string {
	if v == nil || s.sanitizer == nil {
		return v
	}
	clean := s.sanitizer.SanitizeText(*v)
	return &clean
}
