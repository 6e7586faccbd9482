// Package queue はRabbitMQへのドメインイベントの発行を提供する。
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/rentnest/internal/model"
)

// MessageCreatedQueue はメッセージ作成イベントのキュー名。
const MessageCreatedQueue = "message.created"

// MessageCreatedEvent はメッセージ作成時に発行されるイベント。
// 本文は含めず、通知に必要なメタデータのみを運ぶ。
type MessageCreatedEvent struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ContentLength  int       `json:"content_length"`
	CreatedAt      time.Time `json:"created_at"`
}

// amqpChannel はPublisherが使用するチャネル操作。
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer はブローカーへ接続し、チャネルと接続のCloserを返す。
type dialer func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, conn, nil
}

// Publisher はメッセージ作成イベントをRabbitMQに発行する。
// 接続は初回発行時に確立し、失敗した場合は次回の発行時に再接続する。
type Publisher struct {
	url    string
	dial   dialer
	logger *slog.Logger

	mu   sync.Mutex
	ch   amqpChannel
	conn io.Closer
}

// NewPublisher はPublisherを生成する。接続は遅延して確立される。
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, dial: dialAMQP, logger: logger}
}

// PublishMessageCreated はメッセージ作成イベントを永続メッセージとして発行する。
func (p *Publisher) PublishMessageCreated(ctx context.Context, msg *model.Message) error {
	body, err := json.Marshal(MessageCreatedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ContentLength:  len([]rune(msg.Content)),
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",                  // default exchange
		MessageCreatedQueue, // routing key = queue name
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// channelLocked は確立済みのチャネルを返す。未接続の場合は接続してキューを宣言する。
func (p *Publisher) channelLocked() (amqpChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(MessageCreatedQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	p.logger.Info("connected to message broker", slog.String("queue", MessageCreatedQueue))
	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}
