package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nvandessel/stochsim/internal/playback"
)

const writeWait = 5 * time.Second

// hub fans frames out to WebSocket clients. Only run touches the client set.
type hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	done      chan struct{}
	logger    *slog.Logger
	onMessage func(ctx context.Context, client string, data []byte)

	mu     sync.RWMutex
	latest []byte
	ctx    context.Context
}

func newHub(logger *slog.Logger, onMessage func(ctx context.Context, client string, data []byte)) *hub {
	return &hub{
		// A nil CheckOrigin rejects cross-origin upgrades.
		upgrader:  websocket.Upgrader{},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
		done:      make(chan struct{}),
		logger:    logger,
		onMessage: onMessage,
		ctx:       context.Background(),
	}
}

func (h *hub) run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	defer func() {
		close(h.done)
		for conn := range h.clients {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.clients[conn] = true
			h.mu.RLock()
			latest := h.latest
			h.mu.RUnlock()
			if latest != nil {
				h.send(conn, latest)
			}
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				h.send(conn, msg)
			}
		}
	}
}

func (h *hub) send(conn *websocket.Conn, msg []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.logger.Warn("dropping websocket client", "error", err)
		delete(h.clients, conn)
		conn.Close()
	}
}

// publish queues a frame for every client and keeps it for new ones. It
// never blocks: a frame is dropped when the queue is full.
func (h *hub) publish(frame *playback.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshaling frame", "error", err)
		return
	}
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("websocket queue full, dropping frame")
	}
}

// handle upgrades the request and feeds the client's messages to onMessage,
// keyed by the address the upgrade came from.
func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	client := clientKey(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	h.mu.RLock()
	ctx := h.ctx
	h.mu.RUnlock()

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
			}
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket closed", "error", err)
				}
				return
			}
			if h.onMessage != nil {
				h.onMessage(ctx, client, message)
			}
		}
	}()
}
