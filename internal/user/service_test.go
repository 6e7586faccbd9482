package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/rentnest/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Credential, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.Credential, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	return nil, nil
}
func (m *mockUserRepo) CreateWithProfile(ctx context.Context, cred *model.Credential, profile *model.Profile) error {
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

type mockProfiles struct {
	byID    map[string]*model.Profile
	listErr error
}

func (m *mockProfiles) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	return m.byID[id], nil
}
func (m *mockProfiles) ListAll(ctx context.Context) ([]*model.Profile, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*model.Profile, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func newProfiles() *mockProfiles {
	return &mockProfiles{byID: map[string]*model.Profile{
		"admin-1":  {ID: "admin-1", Role: model.RoleAdmin},
		"renter-1": {ID: "renter-1", Role: model.RoleRenter},
	}}
}

// --- テスト ---

func TestDeleteUser_Success(t *testing.T) {
	var callOrder []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Credential, error) {
			return &model.Credential{ID: id, Email: "renter@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			callOrder = append(callOrder, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			callOrder = append(callOrder, "sessions")
			return nil
		},
	}
	svc := NewService(userRepo, sessionRepo, newProfiles())

	if err := svc.DeleteUser(context.Background(), "admin-1", "renter-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"sessions", "user"}
	if len(callOrder) != len(expected) {
		t.Fatalf("call order length: got %d, want %d (%v)", len(callOrder), len(expected), callOrder)
	}
	for i, v := range expected {
		if callOrder[i] != v {
			t.Errorf("call order[%d]: got %s, want %s", i, callOrder[i], v)
		}
	}
}

func TestDeleteUser_NonAdmin_PermissionDenied(t *testing.T) {
	userRepo := &mockUserRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("DeleteByID should not be called")
			return nil
		},
	}
	svc := NewService(userRepo, nil, newProfiles())

	err := svc.DeleteUser(context.Background(), "renter-1", "admin-1")
	if !model.HasCode(err, model.ErrCodePermissionDenied) {
		t.Fatalf("err = %v, want PERMISSION_DENIED", err)
	}
}

func TestDeleteUser_Self_PermissionDenied(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Credential, error) {
			t.Error("FindByID should not be called for self-deletion")
			return nil, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("DeleteByID should not be called for self-deletion")
			return nil
		},
	}
	svc := NewService(userRepo, nil, newProfiles())

	err := svc.DeleteUser(context.Background(), "admin-1", "admin-1")
	if !model.HasCode(err, model.ErrCodePermissionDenied) {
		t.Fatalf("err = %v, want PERMISSION_DENIED", err)
	}
}

func TestDeleteUser_UserNotFound(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Credential, error) {
			return nil, nil
		},
	}
	svc := NewService(userRepo, nil, newProfiles())

	err := svc.DeleteUser(context.Background(), "admin-1", "ghost")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestDeleteUser_SessionDeleteFails(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Credential, error) {
			return &model.Credential{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("DeleteByID should not be called after session deletion failure")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("db error")
		},
	}
	svc := NewService(userRepo, sessionRepo, newProfiles())

	if err := svc.DeleteUser(context.Background(), "admin-1", "renter-1"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestListUsers_Admin_ReturnsAll(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, newProfiles())

	users, err := svc.ListUsers(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len = %d, want 2", len(users))
	}
}

func TestListUsers_NonAdmin_PermissionDenied(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, newProfiles())

	_, err := svc.ListUsers(context.Background(), "renter-1")
	if !model.HasCode(err, model.ErrCodePermissionDenied) {
		t.Fatalf("err = %v, want PERMISSION_DENIED", err)
	}
}

func TestListUsers_CallerWithoutProfile_PermissionDenied(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, newProfiles())

	_, err := svc.ListUsers(context.Background(), "orphan")
	if !model.HasCode(err, model.ErrCodePermissionDenied) {
		t.Fatalf("err = %v, want PERMISSION_DENIED", err)
	}
}
