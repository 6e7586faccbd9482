// Package realtime はメッセージ挿入イベントを購読中の参加者へ配信する。
// PostgreSQLのLISTEN/NOTIFYで受け取ったイベントをHubが購読者ごとに振り分ける。
package realtime

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/rentnest/internal/model"
)

// subscriberBuffer は購読者ごとの送信バッファ数。
// バッファが溢れた購読者は切断される。
const subscriberBuffer = 32

// Notification はメッセージ挿入の通知。配信先の判定に参加者IDを含む。
type Notification struct {
	Message          model.Message
	ParticipantOneID string
	ParticipantTwoID string
}

// SubscriberGauge は購読者数の変化を受け取るインターフェース。
type SubscriberGauge interface {
	SetRealtimeSubscribers(n int)
}

// Subscription は1つの購読を表す。Eventsは購読解除または切断時にクローズされる。
type Subscription struct {
	userID string
	events chan model.Message
	closed bool
}

// UserID は購読者のユーザーIDを返す。
func (s *Subscription) UserID() string {
	return s.userID
}

// Events はメッセージを受け取るチャネルを返す。
func (s *Subscription) Events() <-chan model.Message {
	return s.events
}

// Hub は購読者を管理し、通知を参加者の購読にのみ配信する。
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscription]struct{}
	count       int
	gauge       SubscriberGauge
	logger      *slog.Logger
}

// NewHub はHubを生成する。gaugeはnilでもよい。
func NewHub(logger *slog.Logger, gauge SubscriberGauge) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		gauge:       gauge,
		logger:      logger,
	}
}

// Subscribe は指定ユーザーの購読を登録する。
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		userID: userID,
		events: make(chan model.Message, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subscribers[userID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subscribers[userID] = set
	}
	set[sub] = struct{}{}
	h.count++
	h.reportLocked()
	return sub
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish は通知を両参加者の購読に配信する。
// バッファが溢れている購読は切断する。
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := []string{n.ParticipantOneID}
	if n.ParticipantTwoID != n.ParticipantOneID {
		targets = append(targets, n.ParticipantTwoID)
	}

	for _, userID := range targets {
		for sub := range h.subscribers[userID] {
			select {
			case sub.events <- n.Message:
			default:
				h.logger.Warn("リアルタイム購読のバッファが溢れたため切断",
					slog.String("user_id", userID),
					slog.Int64("conversation_id", n.Message.ConversationID),
				)
				h.removeLocked(sub)
			}
		}
	}
}

// Count は現在の購読数を返す。
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Close は全ての購読を解除する。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subscribers {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.events)

	if set, ok := h.subscribers[sub.userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subscribers, sub.userID)
		}
	}
	h.count--
	h.reportLocked()
}

func (h *Hub) reportLocked() {
	if h.gauge != nil {
		h.gauge.SetRealtimeSubscribers(h.count)
	}
}
