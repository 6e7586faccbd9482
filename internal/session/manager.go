// Package session は認証済みIdentityとそのProfileのクライアント側の状態を管理する。
// 状態遷移は認証状態ストリームのイベントのみで駆動し、ポーリングはしない。
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hitoshi/rentnest/internal/model"
)

// Backend はSession Managerが利用する認証・プロフィールのリモート操作。
// *client.Clientが満たす。
type Backend interface {
	OnAuthStateChange(ctx context.Context) model.AuthStream
	Login(ctx context.Context, email, password string) error
	Signup(ctx context.Context, req model.SignupRequest) error
	Logout(ctx context.Context) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]*model.Profile, error)
	DeleteUser(ctx context.Context, id string) error
	DeleteProfile(ctx context.Context, id string) error
}

// State はSession Managerの状態。
type State string

const (
	// StateInitializing は最初の認証イベントを待っている状態。
	StateInitializing State = "initializing"
	// StateAnonymous はサインアウト状態。
	StateAnonymous State = "anonymous"
	// StateAuthenticated はサインイン済み状態。Profileがnilの場合は機能制限モード。
	StateAuthenticated State = "authenticated"
)

// Snapshot はある時点の状態のコピー。保持しても内部状態とは共有しない。
type Snapshot struct {
	State    State
	Identity *model.Identity
}

// Role はProfileが存在する場合に役割を返す。
func (s Snapshot) Role() (model.Role, bool) {
	return s.Identity.Role()
}

// PreferredLanguage はProfileの表示言語を返す。Profileがない場合は英語。
func (s Snapshot) PreferredLanguage() model.Language {
	if s.Identity == nil || s.Identity.Profile == nil || !s.Identity.Profile.PreferredLanguage.Valid() {
		return model.LanguageEnglish
	}
	return s.Identity.Profile.PreferredLanguage
}

// Manager はIdentity+Profileの唯一の書き込み主体。並行利用に安全。
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	identity   *model.Identity
	generation uint64 // 認証状態が変わるたびに進め、古いProfile取得結果を破棄する
	watchers   map[*watcher]struct{}

	stream model.AuthStream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager はManagerを生成する。Startを呼ぶまでStateInitializingのまま。
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		logger:   logger,
		state:    StateInitializing,
		watchers: make(map[*watcher]struct{}),
	}
}

// Start は認証状態ストリームを1回だけ購読し、イベント処理を開始する。
// 最初のイベントが初期状態となるため、別途セッションを取得する呼び出しは行わない。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stream != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.stream = m.backend.OnAuthStateChange(ctx)
	stream, done := m.stream, m.done
	m.mu.Unlock()

	go m.run(ctx, stream, done)
}

// Close はストリームの購読を解除し、イベント処理の終了を待つ。複数回呼び出しても安全。
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, stream, done := m.cancel, m.stream, m.done
	m.mu.Unlock()
	if stream == nil {
		return
	}
	cancel()
	stream.Close()
	<-done

	m.mu.Lock()
	for w := range m.watchers {
		w.closeLocked()
	}
	m.watchers = make(map[*watcher]struct{})
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, stream model.AuthStream, done chan struct{}) {
	defer close(done)
	for ev := range stream.Events() {
		m.handleEvent(ctx, ev)
	}
	m.logger.Debug("auth state stream closed")
}

// handleEvent は1件の認証イベントを反映する。
func (m *Manager) handleEvent(ctx context.Context, ev model.AuthEvent) {
	switch ev.Type {
	case model.AuthEventSignedIn:
		if ev.Identity == nil {
			m.logger.Warn("signed-in event without identity ignored")
			return
		}
		m.signIn(ctx, ev.Identity)
	case model.AuthEventSignedOut:
		m.mu.Lock()
		m.setAnonymousLocked()
		m.mu.Unlock()
	default:
		m.logger.Warn("unknown auth event ignored", slog.String("type", string(ev.Type)))
	}
}

// signIn はProfileを取得してから認証済み状態を1回で反映する。
// 取得に失敗しても認証済みとし、Profileはnilのままにする。
func (m *Manager) signIn(ctx context.Context, identity *model.Identity) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	profile, err := m.backend.GetProfile(ctx, identity.ID)
	if err != nil {
		m.logger.Warn("profile fetch failed, continuing without profile",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		profile = nil
	} else if profile == nil {
		m.logger.Warn("profile not found, continuing without profile", slog.String("user_id", identity.ID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		// 取得中にログアウトや別のサインインが反映された
		return
	}
	m.state = StateAuthenticated
	m.identity = &model.Identity{
		ID:      identity.ID,
		Email:   identity.Email,
		Profile: profile.Clone(),
	}
	m.notifyLocked()
}

func (m *Manager) setAnonymousLocked() {
	m.generation++
	if m.state == StateAnonymous && m.identity == nil {
		return
	}
	m.state = StateAnonymous
	m.identity = nil
	m.notifyLocked()
}

// Snapshot は現在の状態のコピーを返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentIdentity は現在のIdentityのコピーを返す。サインアウト状態ではnil。
func (m *Manager) CurrentIdentity() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneIdentity(m.identity)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, Identity: cloneIdentity(m.identity)}
}

// --- 認証操作 ---

// Login は資格情報を送信する。Identityの反映は認証状態ストリーム経由で非同期に行われる。
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if err := m.backend.Login(ctx, strings.TrimSpace(email), password); err != nil {
		return asRemoteFailure(err)
	}
	return nil
}

// Signup は資格情報と初期プロフィールのメタデータを登録する。
// 連絡先名はメールアドレスのローカル部、電話番号は仮の値を設定する。
func (m *Manager) Signup(ctx context.Context, email, password string, role model.Role, lang model.Language) error {
	email = strings.TrimSpace(email)
	req := model.SignupRequest{
		Email:             email,
		Password:          password,
		Role:              role,
		PreferredLanguage: lang,
		ContactName:       model.DefaultContactName(email),
		ContactPhone:      model.DefaultContactPhone,
	}
	if err := m.backend.Signup(ctx, req); err != nil {
		if isAlreadyRegistered(err) {
			return model.NewAlreadyRegisteredError(email)
		}
		return asRemoteFailure(err)
	}
	return nil
}

// isAlreadyRegistered は重複登録エラーかどうかを判定する。
// エラーコードを優先し、コードがない場合はメッセージで判定する。
func isAlreadyRegistered(err error) bool {
	if model.HasCode(err, model.ErrCodeAlreadyRegistered) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists")
}

// Logout はローカル状態を先にサインアウトにしてからサーバー側のセッションを無効化する。
// サーバー呼び出しの失敗はログに記録するのみで、ローカル状態は戻さない。
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.setAnonymousLocked()
	m.mu.Unlock()

	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Warn("server-side logout failed", slog.String("error", err.Error()))
	}
	return nil
}

// --- プロフィール操作 ---

// UpdateProfile は現在のIdentityのProfileを部分更新する。
// 成功した場合はサーバーが返した行でローカルのProfileを置き換える。
func (m *Manager) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error) {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return nil, model.NewNotAuthenticatedError()
	}
	userID, gen := m.identity.ID, m.generation
	m.mu.Unlock()

	if update.IsEmpty() {
		return nil, model.NewInvalidRequestError("no fields to update")
	}

	updated, err := m.backend.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, asRemoteFailure(err)
	}
	m.replaceProfile(gen, userID, updated)
	return updated.Clone(), nil
}

// ToggleSaveProperty は物件の保存状態を反転する。役割がrenterでない場合は何もしない。
// 保存済み一覧全体を書き込み、成功した場合のみローカルのProfileを置き換える。
func (m *Manager) ToggleSaveProperty(ctx context.Context, propertyID int64) error {
	m.mu.Lock()
	if m.identity == nil || m.identity.Profile == nil || m.identity.Profile.Role != model.RoleRenter {
		m.mu.Unlock()
		return nil
	}
	userID, gen := m.identity.ID, m.generation
	current := m.identity.Profile.SavedProperties
	next := make([]int64, 0, len(current)+1)
	if slices.Contains(current, propertyID) {
		for _, id := range current {
			if id != propertyID {
				next = append(next, id)
			}
		}
	} else {
		next = append(next, current...)
		next = append(next, propertyID)
	}
	m.mu.Unlock()

	updated, err := m.backend.UpdateProfile(ctx, userID, model.ProfileUpdate{SavedProperties: next})
	if err != nil {
		return asRemoteFailure(err)
	}
	m.replaceProfile(gen, userID, updated)
	return nil
}

// replaceProfile は状態が変わっていない場合に限りProfileを置き換える。
func (m *Manager) replaceProfile(gen uint64, userID string, profile *model.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.identity == nil || m.identity.ID != userID || profile == nil {
		return
	}
	m.identity.Profile = profile.Clone()
	m.notifyLocked()
}

// --- 管理者操作 ---

// FetchAllUsers は全ユーザーのプロフィールを返す。adminでなければ通信せずにPERMISSION_DENIED。
func (m *Manager) FetchAllUsers(ctx context.Context) ([]*model.Profile, error) {
	if _, err := m.requireAdmin(); err != nil {
		return nil, err
	}
	profiles, err := m.backend.ListProfiles(ctx)
	if err != nil {
		return nil, asRemoteFailure(err)
	}
	return profiles, nil
}

// DeleteUserByAdmin は特権削除で資格情報とプロフィールを削除する。
// 自分自身の削除は通信前に拒否する。特権削除が失敗した場合はプロフィールのみを削除し、
// 失敗した手順を含むAdminDeletionErrorを返す。
func (m *Manager) DeleteUserByAdmin(ctx context.Context, userID string) error {
	adminID, err := m.requireAdmin()
	if err != nil {
		return err
	}
	if userID == adminID {
		return model.NewPermissionDeniedError("administrators cannot delete their own account")
	}

	// 1. 特権削除（資格情報+プロフィール）
	deleteErr := m.backend.DeleteUser(ctx, userID)
	if deleteErr == nil {
		return nil
	}
	deleteErr = asRemoteFailure(deleteErr)
	m.logger.Error("privileged user deletion failed, deleting profile only",
		slog.String("user_id", userID),
		slog.String("error", deleteErr.Error()),
	)

	// 2. フォールバック: プロフィールのみ削除
	if fallbackErr := m.backend.DeleteProfile(ctx, userID); fallbackErr != nil {
		m.logger.Error("profile fallback deletion failed",
			slog.String("user_id", userID),
			slog.String("error", fallbackErr.Error()),
		)
		return &model.AdminDeletionError{
			UserID:      userID,
			Step:        model.DeletionStepProfileFallback,
			Err:         deleteErr,
			FallbackErr: asRemoteFailure(fallbackErr),
		}
	}
	return &model.AdminDeletionError{
		UserID: userID,
		Step:   model.DeletionStepPrivileged,
		Err:    deleteErr,
	}
}

// requireAdmin はローカルのProfileでadminかどうかを確認し、adminのIDを返す。
// 表示上のガードであり、認可はサーバー側で行われる。
func (m *Manager) requireAdmin() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return "", model.NewNotAuthenticatedError()
	}
	if role, ok := m.identity.Role(); !ok || role != model.RoleAdmin {
		return "", model.NewPermissionDeniedError("administrator role required")
	}
	return m.identity.ID, nil
}

// asRemoteFailure はAPIError以外のエラーをREMOTE_SERVICE_FAILUREに変換する。
// コンテキストのキャンセルはそのまま返す。
func asRemoteFailure(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return model.NewRemoteServiceFailureError(err.Error())
}

func cloneIdentity(i *model.Identity) *model.Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Profile = i.Profile.Clone()
	return &c
}
