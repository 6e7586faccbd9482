// Package client はrentnestバックエンドのGo SDKを提供する。
// HTTPでリクエスト/レスポンス型の操作を行い、認証状態の変化とメッセージ挿入を
// 購読ハンドルとして配信する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/model"
)

const (
	// defaultTimeout はhttpClientが指定されない場合のリクエストタイムアウト。
	defaultTimeout = 10 * time.Second
	// maxErrorBodyBytes はエラーレスポンスとして読み込む上限サイズ。
	maxErrorBodyBytes = 64 << 10
	// defaultBackoffInitial と defaultBackoffMax はリアルタイム再接続の待機時間。
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 30 * time.Second
)

// Option はClientの設定を変更する。
type Option func(*Client)

// WithReconnectBackoff はリアルタイム再接続の初期待機時間と上限を設定する。
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.backoffInitial = initial
		}
		if max >= initial {
			c.backoffMax = max
		}
	}
}

// Client はバックエンドAPIのクライアント。並行利用に安全。
type Client struct {
	baseURL        string
	http           *http.Client
	logger         *slog.Logger
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu       sync.Mutex
	token    string
	identity *model.Identity
	watchers map[*authSubscription]struct{}
}

// New はClientを生成する。httpClientがnilの場合はタイムアウト付きのクライアントを使う。
func New(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           httpClient,
		logger:         logger,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		watchers:       make(map[*authSubscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- 認証 ---

// Signup は資格情報と初期プロフィールを登録し、サインイン状態にする。
func (c *Client) Signup(ctx context.Context, req model.SignupRequest) error {
	body := api.SignupRequest{
		Email:             req.Email,
		Password:          req.Password,
		Role:              string(req.Role),
		PreferredLanguage: string(req.PreferredLanguage),
		ContactName:       req.ContactName,
		ContactPhone:      req.ContactPhone,
	}
	var resp api.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", body, &resp); err != nil {
		return err
	}
	c.setSession(resp.AccessToken, resp.User.ToModel())
	return nil
}

// Login はパスワードでサインインする。
// 認証状態の反映はOnAuthStateChangeの購読者へのイベントとして行われる。
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp api.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", api.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	c.setSession(resp.AccessToken, resp.User.ToModel())
	return nil
}

// Logout は保持しているトークンを破棄してからサーバー側のセッションを無効化する。
// サーバー呼び出しが失敗してもローカルの状態はサインアウトのまま。
func (c *Client) Logout(ctx context.Context) error {
	token := c.clearSession()
	if token == "" {
		return nil
	}
	return c.doWithToken(ctx, token, http.MethodPost, "/auth/v1/logout", nil, nil)
}

// AccessToken は現在保持しているアクセストークンを返す。サインアウト状態では空文字。
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// --- プロフィール ---

// GetProfile はプロフィールを取得する。存在しない場合はnil, nilを返す。
func (c *Client) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var resp api.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(id), nil, &resp); err != nil {
		if model.HasCode(err, model.ErrCodeProfileNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return resp.ToModel(), nil
}

// UpdateProfile はプロフィールを部分更新し、サーバーが返した更新後の行を返す。
func (c *Client) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	var resp api.ProfileResponse
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles/"+url.PathEscape(id),
		api.ProfileUpdateFromModel(update), &resp); err != nil {
		return nil, err
	}
	return resp.ToModel(), nil
}

// DeleteProfile はプロフィール行のみを削除する。
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/profiles/"+url.PathEscape(id), nil, nil)
}

// ListProfiles は全ユーザーのプロフィールを返す。サーバー側で管理者のみに制限される。
func (c *Client) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	var resp []api.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles", nil, &resp); err != nil {
		return nil, err
	}
	profiles := make([]*model.Profile, 0, len(resp))
	for _, p := range resp {
		profiles = append(profiles, p.ToModel())
	}
	return profiles, nil
}

// DeleteUser は特権削除で資格情報とプロフィールを削除する。
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/functions/v1/delete-user", api.DeleteUserRequest{UserID: id}, nil)
}

// --- 会話・メッセージ ---

// ListConversations は呼び出し元が参加する会話を最終更新の新しい順で返す。
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var resp []api.ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/rest/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return toConversations(resp), nil
}

// FindConversation は参加者ペア（順序不問）の会話を返す。存在しない場合はnil, nil。
func (c *Client) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	q := url.Values{}
	q.Set("a", a)
	q.Set("b", b)
	var resp []api.ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/rest/v1/conversations/between?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nil
	}
	return resp[0].ToModel(), nil
}

// CreateConversation は会話を作成し、サーバーが採番した行を返す。
func (c *Client) CreateConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	var resp api.ConversationResponse
	req := api.CreateConversationRequest{ParticipantOneID: a, ParticipantTwoID: b}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/conversations", req, &resp); err != nil {
		return nil, err
	}
	return resp.ToModel(), nil
}

// ListMessages は会話のメッセージを作成日時の昇順で返す。
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	var resp []api.MessageResponse
	path := "/rest/v1/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]*model.Message, 0, len(resp))
	for _, m := range resp {
		msg := m.ToModel()
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// InsertMessage はメッセージを挿入する。挿入された行は返さない。
func (c *Client) InsertMessage(ctx context.Context, conversationID int64, content string) error {
	req := api.SendMessageRequest{ConversationID: conversationID, Content: content}
	return c.do(ctx, http.MethodPost, "/rest/v1/messages", req, nil)
}

func toConversations(resp []api.ConversationResponse) []*model.Conversation {
	convs := make([]*model.Conversation, 0, len(resp))
	for _, c := range resp {
		convs = append(convs, c.ToModel())
	}
	return convs
}

// --- HTTP ---

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithToken(ctx, c.AccessToken(), method, path, body, out)
}

// doWithToken はリクエストを送信し、レスポンスをoutにデコードする。
// トランスポートエラーはREMOTE_SERVICE_FAILURE、エラーレスポンスはAPIErrorとして返す。
func (c *Client) doWithToken(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return model.NewRemoteServiceFailureError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(resp)
		if apiErr.Code == model.ErrCodeNotAuthenticated && token != "" {
			c.expireSession(token)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewRemoteServiceFailureError(fmt.Sprintf("invalid response from %s %s: %v", method, path, err))
	}
	return nil
}

// decodeError はエラーレスポンスをAPIErrorに変換する。
// 統一フォーマットでない場合はステータスと本文をREMOTE_SERVICE_FAILUREとして保持する。
func decodeError(resp *http.Response) *model.APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		return body.ToModel()
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return model.NewRemoteServiceFailureError(fmt.Sprintf("%d: %s", resp.StatusCode, msg))
}

// --- セッション状態 ---

func (c *Client) setSession(token string, identity *model.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.identity = identity
	c.broadcastLocked(model.AuthEvent{Type: model.AuthEventSignedIn, Identity: cloneIdentity(identity)})
}

// clearSession はローカルのトークンを破棄し、破棄前のトークンを返す。
func (c *Client) clearSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := c.token
	if token == "" {
		return ""
	}
	c.token = ""
	c.identity = nil
	c.broadcastLocked(model.AuthEvent{Type: model.AuthEventSignedOut})
	return token
}

// expireSession はサーバーに拒否されたトークンがまだ保持中であれば破棄する。
func (c *Client) expireSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		return
	}
	c.logger.Info("access token rejected by server, signing out")
	c.token = ""
	c.identity = nil
	c.broadcastLocked(model.AuthEvent{Type: model.AuthEventSignedOut})
}

func (c *Client) snapshotLocked() model.AuthEvent {
	if c.token == "" {
		return model.AuthEvent{Type: model.AuthEventSignedOut}
	}
	return model.AuthEvent{Type: model.AuthEventSignedIn, Identity: cloneIdentity(c.identity)}
}

func cloneIdentity(i *model.Identity) *model.Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Profile = i.Profile.Clone()
	return &c
}
