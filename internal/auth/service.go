// Package auth はパスワード認証、アクセストークン発行、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AccessTokenTTL time.Duration
	BcryptCost     int
}

// TokenResult はログイン・サインアップ成功時に返す認証結果。
type TokenResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Identity    *model.Identity
}

// Principal は検証済みアクセストークンが表す認証主体。
type Principal struct {
	UserID    string
	SessionID string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 24 * time.Hour
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		config:      config,
	}
}

// Signup は資格情報と初期プロフィールを登録し、そのままサインイン状態のトークンを発行する。
// メールアドレスが登録済みの場合はALREADY_REGISTEREDを返す。
func (s *Service) Signup(ctx context.Context, req model.SignupRequest) (*TokenResult, error) {
	// 1. 入力値の検証と既定値の補完
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	role := req.Role
	if role == "" {
		role = model.RoleRenter
	}
	if !role.Valid() || role == model.RoleAdmin {
		return nil, model.NewInvalidRequestError("role must be renter or landlord")
	}
	lang := req.PreferredLanguage
	if lang == "" {
		lang = model.LanguageEnglish
	}
	if !lang.Valid() {
		return nil, model.NewInvalidRequestError("preferred language must be en or es")
	}
	contactName := req.ContactName
	if contactName == "" {
		contactName = model.DefaultContactName(email)
	}
	contactPhone := req.ContactPhone
	if contactPhone == "" {
		contactPhone = model.DefaultContactPhone
	}

	// 2. パスワードをハッシュ化
	hash, err := hashPassword(req.Password, s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	// 3. 資格情報とプロフィールを同時に作成
	now := time.Now()
	userID := uuid.New().String()
	cred := &model.Credential{
		ID:           userID,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := &model.Profile{
		ID:                userID,
		Role:              role,
		SavedProperties:   []int64{},
		PreferredLanguage: lang,
		ContactName:       contactName,
		ContactPhone:      contactPhone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.userRepo.CreateWithProfile(ctx, cred, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadyRegisteredError(email)
		}
		return nil, fmt.Errorf("failed to create user and profile: %w", err)
	}

	slog.Info("new user signed up",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)

	// 4. セッションを発行
	return s.issue(ctx, cred)
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// 資格情報が一致しない場合はINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*TokenResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	cred, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if cred == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := checkPassword(cred.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		slog.Info("login rejected", slog.String("user_id", cred.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	return s.issue(ctx, cred)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// Authenticate はアクセストークンを検証し、有効なセッションに紐付く認証主体を返す。
// トークン不正・セッション失効の場合はNOT_AUTHENTICATEDを返す。
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*Principal, error) {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, model.NewNotAuthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.Subject {
		return nil, model.NewNotAuthenticatedError()
	}

	return &Principal{UserID: session.UserID, SessionID: session.ID}, nil
}

// CurrentIdentity は認証主体のIdentityを返す。Profileは含まない。
func (s *Service) CurrentIdentity(ctx context.Context, userID string) (*model.Identity, error) {
	cred, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if cred == nil {
		return nil, model.NewUserNotFoundError()
	}
	return &model.Identity{ID: cred.ID, Email: cred.Email}, nil
}

// issue はセッションを作成し、アクセストークンを発行する。
func (s *Service) issue(ctx context.Context, cred *model.Credential) (*TokenResult, error) {
	now := time.Now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    cred.ID,
		ExpiresAt: now.Add(s.config.AccessTokenTTL),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	token, err := s.tokens.Issue(cred.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return &TokenResult{
		AccessToken: token,
		ExpiresAt:   session.ExpiresAt,
		Identity:    &model.Identity{ID: cred.ID, Email: cred.Email},
	}, nil
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidRequestError("email address is not valid")
	}
	return email, nil
}
