package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"

	"main/internal/pipeline"
)

func dialHub(t *testing.T, h *Hub) *gws.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishStateFansOut(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.fanout(ctx)

	conn := dialHub(t, h)
	waitClients(t, h, 1)

	h.PublishState(pipeline.StateSnapshot{Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snapshot pipeline.StateSnapshot
	if err := sonic.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Timestamp.IsZero() {
		t.Fatal("snapshot timestamp missing")
	}
}

func TestNewClientReceivesLastSnapshot(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.fanout(ctx)

	h.PublishState(pipeline.StateSnapshot{Timestamp: time.Now()})
	// wait for fanout to store the last snapshot
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.last) > 0
	}, "snapshot never stored")

	conn := dialHub(t, h)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("new client did not receive last snapshot: %v", err)
	}
}

func TestPublishStateNeverBlocks(t *testing.T) {
	h := NewHub()
	// no fanout running; fill the broadcast buffer past capacity
	for i := 0; i < cap(h.broadcast)+5; i++ {
		done := make(chan struct{})
		go func() {
			h.PublishState(pipeline.StateSnapshot{Timestamp: time.Now()})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("PublishState blocked")
		}
	}
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	waitFor(t, func() bool { return h.ClientCount() == want }, "client never registered")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
