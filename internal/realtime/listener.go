package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rentnest/internal/model"
)

// Channel はメッセージ挿入トリガーが通知するチャネル名。
const Channel = "message_inserted"

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
	defaultPingInterval  = 90 * time.Second
)

// notificationSource はLISTEN接続の抽象。*pq.Listenerが満たす。
type notificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// MessageFinder は本文が省略された通知のメッセージを再取得する。
type MessageFinder interface {
	FindByID(ctx context.Context, id int64) (*model.Message, error)
}

// payload はmessages_notifyトリガーが送るJSON。
type payload struct {
	ID               int64     `json:"id"`
	ConversationID   int64     `json:"conversation_id"`
	SenderID         string    `json:"sender_id"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	ParticipantOneID string    `json:"participant_one_id"`
	ParticipantTwoID string    `json:"participant_two_id"`
	Truncated        bool      `json:"truncated"`
}

// Listener はPostgreSQLの通知を受け取り、Hubへ配信する。
type Listener struct {
	source       notificationSource
	hub          *Hub
	finder       MessageFinder
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewListener はdatabaseURLへLISTEN接続するListenerを生成する。
// 接続断時はpq.Listenerが1秒から30秒の間隔で再接続する。
func NewListener(databaseURL string, hub *Hub, finder MessageFinder, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		hub:          hub,
		finder:       finder,
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
	l.source = pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval, l.onConnectionEvent)
	return l
}

// Run はctxがキャンセルされるまで通知を受信し続ける。
func (l *Listener) Run(ctx context.Context) error {
	if err := l.source.Listen(Channel); err != nil {
		_ = l.source.Close()
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	defer l.source.Close()

	l.logger.Info("リアルタイム通知の受信を開始", slog.String("channel", Channel))

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	notifications := l.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("リアルタイム通知の受信を停止")
			return nil
		case n, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			if n == nil {
				// 再接続直後。切断中の通知は失われている
				l.logger.Warn("リアルタイム通知の接続が再確立された")
				continue
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := l.source.Ping(); err != nil {
				l.logger.Warn("リアルタイム通知接続のPingに失敗",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch は通知ペイロードを解析してHubへ配信する。
func (l *Listener) dispatch(ctx context.Context, raw string) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		l.logger.Error("リアルタイム通知の解析に失敗",
			slog.String("error", err.Error()),
		)
		return
	}

	msg := model.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		CreatedAt:      p.CreatedAt,
	}

	if p.Truncated {
		found, err := l.finder.FindByID(ctx, p.ID)
		if err != nil || found == nil {
			l.logger.Error("省略されたメッセージの再取得に失敗",
				slog.Int64("message_id", p.ID),
				slog.Any("error", err),
			)
			return
		}
		msg = *found
	}

	l.hub.Publish(Notification{
		Message:          msg,
		ParticipantOneID: p.ParticipantOneID,
		ParticipantTwoID: p.ParticipantTwoID,
	})
}

func (l *Listener) onConnectionEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("リアルタイム通知用の接続を確立")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("リアルタイム通知用の接続が切断された", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		l.logger.Info("リアルタイム通知用の接続を再確立")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("リアルタイム通知用の接続に失敗", slog.Any("error", err))
	}
}
