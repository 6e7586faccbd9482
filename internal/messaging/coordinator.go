// Package messaging は現在のIdentityが参加する会話一覧、選択中の会話とそのメッセージ履歴、
// メッセージ挿入フィードの購読を管理する。
package messaging

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/rentnest/internal/model"
)

// Backend はCoordinatorが利用する会話・メッセージのリモート操作。
// *client.Clientが満たす。
type Backend interface {
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
	FindConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*model.Message, error)
	InsertMessage(ctx context.Context, conversationID int64, content string) error
	SubscribeMessages(ctx context.Context) model.MessageStream
}

// IdentitySource は現在のIdentityを返す。*session.Managerが満たす。
type IdentitySource interface {
	CurrentIdentity() *model.Identity
}

// Summary は一覧表示用の会話。相手の参加者は現在のIdentityから見て算出する。
type Summary struct {
	Conversation model.Conversation
	OtherID      string
	OtherName    string
}

// Coordinator は会話とメッセージのクライアント側の状態を管理する。並行利用に安全。
type Coordinator struct {
	backend  Backend
	identity IdentitySource
	logger   *slog.Logger

	mu                   sync.Mutex
	conversations        []*model.Conversation
	selected             *model.Conversation
	messages             []*model.Message
	pending              []*model.Message // 履歴取得中に届いた選択中会話のメッセージ
	loadingConversations bool
	loadingMessages      bool
	listGen              uint64
	messageGen           uint64
	changes              chan struct{}

	stream model.MessageStream
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(backend Backend, identity IdentitySource, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		backend:  backend,
		identity: identity,
		logger:   logger,
		changes:  make(chan struct{}, 1),
	}
}

// Start はメッセージ挿入フィードを1回だけ購読し、会話一覧を読み込む。
// 一覧の読み込みに失敗しても購読は維持する。
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.stream = c.backend.SubscribeMessages(ctx)
	stream, done := c.stream, c.done
	c.mu.Unlock()

	go c.runFeed(ctx, stream, done)

	return c.RefreshConversations(ctx)
}

// Stop は購読を解除してフィード処理の終了を待ち、保持している状態を破棄する。
// 複数回呼び出しても安全。
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, stream, done := c.cancel, c.stream, c.done
	c.stream, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()
	if stream == nil {
		return
	}
	cancel()
	stream.Close()
	<-done

	c.mu.Lock()
	c.listGen++
	c.messageGen++
	c.conversations = nil
	c.selected = nil
	c.messages = nil
	c.pending = nil
	c.loadingConversations = false
	c.loadingMessages = false
	c.notifyLocked()
	c.mu.Unlock()
}

// RefreshConversations は現在のIdentityが参加する会話一覧を取得し、丸ごと置き換える。
// 一覧は最新の活動順に並べる。
func (c *Coordinator) RefreshConversations(ctx context.Context) error {
	if c.identity.CurrentIdentity() == nil {
		return model.NewNotAuthenticatedError()
	}

	c.mu.Lock()
	c.listGen++
	gen := c.listGen
	c.loadingConversations = true
	c.notifyLocked()
	c.mu.Unlock()

	convs, err := c.backend.ListConversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.listGen {
		// より新しい読み込みが開始済み。この呼び出しの結果とエラーは破棄し、
		// 一覧とエラーの扱いは新しい読み込みに任せる。
		return nil
	}
	c.loadingConversations = false
	if err != nil {
		c.notifyLocked()
		return asRemoteFailure(err)
	}
	slices.SortStableFunc(convs, func(a, b *model.Conversation) int {
		return lastActivity(b).Compare(lastActivity(a))
	})
	c.conversations = convs
	c.notifyLocked()
	return nil
}

// Conversations は会話一覧を相手の参加者情報付きで返す。
func (c *Coordinator) Conversations() []Summary {
	me := ""
	if id := c.identity.CurrentIdentity(); id != nil {
		me = id.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Summary, 0, len(c.conversations))
	for _, conv := range c.conversations {
		otherID, otherName := conv.Other(me)
		out = append(out, Summary{Conversation: *conv, OtherID: otherID, OtherName: otherName})
	}
	return out
}

// SelectConversation は会話を選択し、メッセージ履歴を作成日時の昇順で読み込み直す。
// 同じ会話を再選択した場合も読み込み直す。
func (c *Coordinator) SelectConversation(ctx context.Context, conv *model.Conversation) error {
	if conv == nil {
		return model.NewInvalidRequestError("conversation is required")
	}
	selected := *conv

	c.mu.Lock()
	c.messageGen++
	gen := c.messageGen
	c.selected = &selected
	c.messages = nil
	c.pending = nil
	c.loadingMessages = true
	c.notifyLocked()
	c.mu.Unlock()

	msgs, err := c.backend.ListMessages(ctx, selected.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.messageGen {
		return nil
	}
	c.loadingMessages = false
	pending := c.pending
	c.pending = nil
	if err != nil {
		c.messages = pending
		c.notifyLocked()
		return asRemoteFailure(err)
	}
	c.messages = mergeMessages(msgs, pending)
	c.notifyLocked()
	return nil
}

// SelectConversationByID は一覧に含まれる会話をIDで選択する。
func (c *Coordinator) SelectConversationByID(ctx context.Context, id int64) error {
	c.mu.Lock()
	var found *model.Conversation
	for _, conv := range c.conversations {
		if conv.ID == id {
			cp := *conv
			found = &cp
			break
		}
	}
	c.mu.Unlock()
	if found == nil {
		return model.NewConversationNotFoundError(id)
	}
	return c.SelectConversation(ctx, found)
}

// StartConversation はrecipientIDとの会話を返す。既存の会話があればそれを返し、
// なければ作成して一覧を読み込み直す。
// 直後にメッセージを送る場合は戻り値の会話IDをWithConversationで渡すこと。
func (c *Coordinator) StartConversation(ctx context.Context, recipientID string) (*model.Conversation, error) {
	me := c.identity.CurrentIdentity()
	if me == nil {
		return nil, model.NewNotAuthenticatedError()
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, model.NewInvalidRequestError("recipient is required")
	}
	if recipientID == me.ID {
		return nil, model.NewSelfConversationError()
	}

	// 1. 順序を問わない参加者ペアで既存の会話を検索
	existing, err := c.backend.FindConversation(ctx, me.ID, recipientID)
	if err != nil {
		return nil, asRemoteFailure(err)
	}
	if existing != nil {
		return existing, nil
	}

	// 2. 会話を作成
	created, err := c.backend.CreateConversation(ctx, me.ID, recipientID)
	if err != nil {
		return nil, asRemoteFailure(err)
	}

	// 3. 一覧の再読み込み。失敗しても作成済みの会話を返す
	if err := c.RefreshConversations(ctx); err != nil {
		c.logger.Warn("conversation list refresh failed after create",
			slog.Int64("conversation_id", created.ID),
			slog.String("error", err.Error()),
		)
	}
	return created, nil
}

// SendOption はSendMessageの送信先を変更する。
type SendOption func(*sendOptions)

type sendOptions struct {
	conversationID int64
}

// WithConversation は選択中の会話の代わりに指定IDの会話へ送信する。
func WithConversation(id int64) SendOption {
	return func(o *sendOptions) {
		o.conversationID = id
	}
}

// SendMessage はメッセージを挿入する。ローカルの履歴には追加せず、
// 自分の送信分もフィード経由で反映される。
func (c *Coordinator) SendMessage(ctx context.Context, content string, opts ...SendOption) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.NewEmptyMessageError()
	}

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	target := o.conversationID
	if target == 0 {
		c.mu.Lock()
		if c.selected != nil {
			target = c.selected.ID
		}
		c.mu.Unlock()
	}
	if target == 0 {
		return model.NewNoActiveConversationError()
	}

	if err := c.backend.InsertMessage(ctx, target, content); err != nil {
		return asRemoteFailure(err)
	}
	return nil
}

// Selected は選択中の会話を返す。未選択の場合はnil。
func (c *Coordinator) Selected() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	cp := *c.selected
	return &cp
}

// Messages は選択中の会話のメッセージ履歴のコピーを返す。
func (c *Coordinator) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, *m)
	}
	return out
}

// LoadingConversations は会話一覧の読み込み中かどうかを返す。
func (c *Coordinator) LoadingConversations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingConversations
}

// LoadingMessages はメッセージ履歴の読み込み中かどうかを返す。
func (c *Coordinator) LoadingMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingMessages
}

// Changes は状態が変わったことを通知するチャネルを返す。
// 通知はまとめられるため、受信後に各アクセサで最新の状態を読むこと。
func (c *Coordinator) Changes() <-chan struct{} {
	return c.changes
}

func (c *Coordinator) notifyLocked() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// mergeMessages は取得した履歴と取得中に届いたメッセージをIDで重複排除し、
// 作成日時（同値の場合はID）の昇順に並べる。
func mergeMessages(fetched, pending []*model.Message) []*model.Message {
	seen := make(map[int64]struct{}, len(fetched)+len(pending))
	out := make([]*model.Message, 0, len(fetched)+len(pending))
	for _, list := range [][]*model.Message{fetched, pending} {
		for _, m := range list {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b *model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// lastActivity は最後のメッセージ日時、なければ作成日時を返す。
func lastActivity(c *model.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
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
