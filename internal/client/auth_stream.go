package client

import (
	"context"
	"sync"

	"github.com/hitoshi/rentnest/internal/model"
)

// authEventBuffer は購読ごとの認証イベントのバッファサイズ。
const authEventBuffer = 8

// authSubscription は認証状態の購読ハンドル。
type authSubscription struct {
	client *Client
	events chan model.AuthEvent
	once   sync.Once

	// 以下はclient.muで保護する
	stop   func() bool
	closed bool
}

var _ model.AuthStream = (*authSubscription)(nil)

// OnAuthStateChange は認証状態の変化を購読する。
// 最初のイベントは購読時点の状態（トークン保持中ならSignedIn、それ以外はSignedOut）。
// ctxがキャンセルされるか、Closeが呼ばれると購読を終了する。
func (c *Client) OnAuthStateChange(ctx context.Context) model.AuthStream {
	sub := &authSubscription{
		client: c,
		events: make(chan model.AuthEvent, authEventBuffer),
	}

	c.mu.Lock()
	c.watchers[sub] = struct{}{}
	// スナップショットと以降のイベントの間に隙間ができないよう、登録と同じロック内で送る
	sub.deliverLocked(c.snapshotLocked())
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Close)
	c.mu.Lock()
	if sub.closed {
		c.mu.Unlock()
		stop()
		return sub
	}
	sub.stop = stop
	c.mu.Unlock()
	return sub
}

// Events はイベントを受け取るチャネルを返す。購読終了時にクローズされる。
func (s *authSubscription) Events() <-chan model.AuthEvent {
	return s.events
}

// Close は購読を終了する。複数回呼び出しても安全。
func (s *authSubscription) Close() {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		s.closed = true
		stop := s.stop
		delete(c.watchers, s)
		close(s.events)
		c.mu.Unlock()

		if stop != nil {
			stop()
		}
	})
}

// deliverLocked はイベントを送る。バッファが溢れている場合は最も古いイベントを捨てる。
// 最新の状態は必ず届く。c.muを保持して呼び出すこと。
func (s *authSubscription) deliverLocked(ev model.AuthEvent) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

func (c *Client) broadcastLocked(ev model.AuthEvent) {
	for sub := range c.watchers {
		sub.deliverLocked(ev)
	}
}
