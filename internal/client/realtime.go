package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/model"
)

// messageEventBuffer はメッセージフィードの受信バッファサイズ。
const messageEventBuffer = 64

// messageSubscription はメッセージ挿入フィードの購読ハンドル。
// 接続が切れた場合は指数バックオフで再接続し続ける。
type messageSubscription struct {
	client *Client
	events chan model.MessageEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ model.MessageStream = (*messageSubscription)(nil)

// SubscribeMessages はメッセージ挿入フィードを購読する。
// ctxがキャンセルされるか、Closeが呼ばれるまで再接続を繰り返す。
func (c *Client) SubscribeMessages(ctx context.Context) model.MessageStream {
	ctx, cancel := context.WithCancel(ctx)
	sub := &messageSubscription{
		client: c,
		events: make(chan model.MessageEvent, messageEventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub
}

// Events はイベントを受け取るチャネルを返す。購読終了時にクローズされる。
func (s *messageSubscription) Events() <-chan model.MessageEvent {
	return s.events
}

// Close は購読を終了し、接続とgoroutineの解放を待つ。複数回呼び出しても安全。
func (s *messageSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *messageSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	logger := s.client.logger
	backoff := s.client.backoffInitial
	attempt := 0

	for {
		conn, err := s.client.dialRealtime(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			logger.Warn("realtime connection failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.client.backoffMax)
			continue
		}

		if attempt > 0 {
			logger.Info("realtime connection restored", slog.Int("attempts", attempt))
		}
		attempt = 0
		backoff = s.client.backoffInitial

		err = s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("realtime connection lost, reconnecting", slog.String("error", err.Error()))
	}
}

// readLoop は接続が切れるかctxがキャンセルされるまでイベントを読み続ける。
func (s *messageSubscription) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var ev api.RealtimeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.Type != string(model.MessageInserted) {
			s.client.logger.Debug("ignoring realtime event", slog.String("type", ev.Type))
			continue
		}
		select {
		case s.events <- ev.ToModel():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dialRealtime はリアルタイムフィードのWebSocket接続を確立する。
// ブラウザ互換のためトークンはクエリパラメータで渡す。
func (c *Client) dialRealtime(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.realtimeURL()
	if err != nil {
		return nil, err
	}

	timeout := c.http.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			apiErr := decodeError(resp)
			resp.Body.Close()
			return nil, apiErr
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) realtimeURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/realtime/v1/messages")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported base URL scheme: " + u.Scheme)
	}
	if token := c.AccessToken(); token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// sleepContext はdだけ待つ。ctxがキャンセルされた場合はfalseを返す。
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
