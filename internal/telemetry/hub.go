package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/pipeline"
)

var upgrader = gws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts pipeline state snapshots to connected websocket observers.
// It implements pipeline.Publisher.
type Hub struct {
	mu        sync.Mutex
	clients   map[*gws.Conn]struct{}
	broadcast chan []byte
	last      []byte
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*gws.Conn]struct{}),
		broadcast: make(chan []byte, 16),
	}
}

// PublishState encodes and broadcasts one snapshot. A slow hub drops the
// snapshot instead of blocking the pipeline.
func (h *Hub) PublishState(s pipeline.StateSnapshot) {
	data, err := sonic.Marshal(s)
	if err != nil {
		logs.Errorf("encode snapshot failed: %+v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logs.Debugf("telemetry broadcast backlog, snapshot dropped")
	}
}

// Run serves the websocket endpoint and fans broadcasts out to clients
// until the context is done.
func (h *Hub) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go h.fanout(ctx)

	logs.Infof("telemetry listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("ws upgrade failed: %+v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	last := h.last
	h.mu.Unlock()

	// new observers get the latest snapshot immediately
	if len(last) > 0 {
		if err := conn.WriteMessage(gws.TextMessage, last); err != nil {
			h.drop(conn)
		}
	}
}

func (h *Hub) fanout(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = message
			for client := range h.clients {
				if err := client.WriteMessage(gws.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(conn *gws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*gws.Conn]struct{})
}

// ClientCount reports current observer connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
