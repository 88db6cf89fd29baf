// 包 ws：场景转换的 websocket 推送；地图客户端连接后先收到当前已挂载要素，再持续收到增量转换
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"map-api/internal/logger"
	"map-api/internal/metrics"
	"map-api/internal/render"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message：推送给客户端的消息
type Message struct {
	Type       string             `json:"type"`
	Session    string             `json:"session,omitempty"`
	Transition *render.Transition `json:"transition,omitempty"`
	Features   []render.Feature   `json:"features,omitempty"`
}

// SnapshotSource：连接建立时补齐状态
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]render.Feature, error)
}

// 文档注释：推送中心
// 背景：实现 render.Sink；Publish 在主事件序列上调用，只做一次编码与非阻塞投递，慢客户端丢消息而不是拖住主序列。
// 约束：每个客户端一个缓冲通道与一个写协程；丢弃计数可通过 Dropped 查询，客户端可重连获取完整快照。
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]chan []byte
	src      SnapshotSource
	upgrader websocket.Upgrader
	buf      int
	dropped  atomic.Int64
	log      *slog.Logger
}

func NewHub(src SnapshotSource) *Hub {
	return &Hub{
		clients: make(map[string]chan []byte),
		src:     src,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buf: 1024,
		log: logger.Component("ws"),
	}
}

// Publish：实现 render.Sink
func (h *Hub) Publish(t render.Transition) {
	b, err := json.Marshal(Message{Type: "transition", Transition: &t})
	if err != nil {
		h.log.Error("ws_encode_error", "kind", string(t.Kind), "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
			h.log.Warn("ws_client_slow", "session", id, "kind", string(t.Kind))
		}
	}
}

// Clients：当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped：因客户端缓冲已满而丢弃的消息数
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) join() (string, chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, h.buf)
	h.mu.Lock()
	h.clients[id] = ch
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
	return id, ch
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

// Handler：升级连接；先注册再取快照，期间产生的转换排在快照之后发送
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("ws_upgrade_error", "err", err)
			return
		}
		defer conn.Close()

		id, out := h.join()
		defer h.leave(id)
		h.log.Info("ws_join", "session", id, "remote", r.RemoteAddr)

		features, err := h.src.Snapshot(r.Context())
		if err != nil {
			h.log.Error("ws_snapshot_error", "session", id, "err", err)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "snapshot unavailable"), time.Now().Add(time.Second))
			return
		}
		if features == nil {
			features = []render.Feature{}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(Message{Type: "snapshot", Session: id, Features: features}); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(30 * time.Second)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// 客户端不发送业务消息；读循环只用于感知断开与处理 pong
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(90 * time.Second)) })
		for {
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		cancel()
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		h.log.Info("ws_leave", "session", id)
	}
}
