package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/rentnest/internal/api"
	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/realtime"
)

const (
	// writeWait は1フレームの書き込みに許容する時間。
	writeWait = 10 * time.Second
	// pongWait はPongを待つ時間。これを超えると切断する。
	pongWait = 60 * time.Second
	// pingPeriod はPingの送信間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10
	// maxInboundMessageBytes はクライアントから受け付けるフレームの上限。
	maxInboundMessageBytes = 4096
)

// RealtimeHub はリアルタイムハンドラーが必要とする購読管理のインターフェース。
type RealtimeHub interface {
	Subscribe(userID string) *realtime.Subscription
	Unsubscribe(sub *realtime.Subscription)
}

// RealtimeHandler はメッセージ挿入フィードをWebSocketで配信する。
type RealtimeHandler struct {
	hub      RealtimeHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRealtimeHandler はRealtimeHandlerを生成する。
// allowedOriginが空の場合、Originヘッダーの検証は同一オリジンのみ許可する。
func NewRealtimeHandler(hub RealtimeHub, allowedOrigin string, logger *slog.Logger) *RealtimeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigin),
		},
	}
}

// originChecker はOriginヘッダーが無い（ブラウザ以外）か、許可オリジンか、同一ホストであれば許可する。
// allowedOriginsはCORSと同じくカンマ区切りで複数指定できる。
func originChecker(allowedOrigins string) func(r *http.Request) bool {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}

// Messages は呼び出し元が参加する会話のメッセージ挿入をWebSocketで配信する。
// GET /realtime/v1/messages
func (h *RealtimeHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("WebSocketへのアップグレードに失敗",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(sub)

	h.logger.Info("リアルタイム購読を開始", slog.String("user_id", userID))

	// 読み取りループはPong処理と切断検知のみを担う
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxInboundMessageBytes)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				// Hubから切断された（シャットダウンまたはバッファ溢れ）
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, msg); err != nil {
				h.logger.Info("リアルタイム配信の書き込みに失敗",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			h.logger.Info("リアルタイム購読を終了", slog.String("user_id", userID))
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, msg model.Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(api.RealtimeEvent{
		Type:   string(model.MessageInserted),
		Record: api.MessageFromModel(&msg),
	})
}
