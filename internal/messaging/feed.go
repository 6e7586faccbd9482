package messaging

import (
	"context"
	"log/slog"

	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/session"
)

// runFeed はメッセージ挿入イベントを順に反映する。ストリームがクローズされると終了する。
func (c *Coordinator) runFeed(ctx context.Context, stream model.MessageStream, done chan struct{}) {
	defer close(done)
	for ev := range stream.Events() {
		c.handleEvent(ctx, ev)
	}
	c.logger.Debug("message feed closed")
}

// handleEvent は選択中の会話宛てのメッセージを履歴に追加し、会話一覧を読み込み直す。
// 選択中でない会話のメッセージは履歴には追加しない。
func (c *Coordinator) handleEvent(ctx context.Context, ev model.MessageEvent) {
	if ev.Type != model.MessageInserted {
		return
	}
	msg := ev.Message

	c.mu.Lock()
	if c.selected != nil && c.selected.ID == msg.ConversationID {
		if c.loadingMessages {
			c.pending = append(c.pending, &msg)
		} else if !containsMessage(c.messages, msg.ID) {
			c.messages = append(c.messages, &msg)
			c.notifyLocked()
		}
	}
	c.mu.Unlock()

	if err := c.RefreshConversations(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("conversation list refresh failed after message event",
			slog.Int64("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
	}
}

func containsMessage(msgs []*model.Message, id int64) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Follow はSession Managerの状態変化に合わせて購読を開始・停止する。
// サインインで開始し、サインアウトやIdentityの切り替えで停止する。
// ctxが終了するかsnapshotsがクローズされると停止して戻る。
func (c *Coordinator) Follow(ctx context.Context, snapshots <-chan session.Snapshot) {
	defer c.Stop()

	var userID string
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if snap.State != session.StateAuthenticated || snap.Identity == nil {
				if userID != "" {
					c.Stop()
					userID = ""
				}
				continue
			}
			if snap.Identity.ID == userID {
				continue
			}

			c.Stop()
			userID = snap.Identity.ID
			if err := c.Start(ctx); err != nil {
				c.logger.Warn("conversation list load failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
