package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"

	"main/internal/schema"
)

func collector(out *[]schema.RawSignal) Sink {
	return func(raw schema.RawSignal) {
		*out = append(*out, raw)
	}
}

func TestNewGatewayValidation(t *testing.T) {
	if _, err := NewGateway(Config{}, func(schema.RawSignal) {}); err == nil {
		t.Fatal("missing token accepted")
	}
	if _, err := NewGateway(Config{Token: "t"}, nil); err == nil {
		t.Fatal("nil sink accepted")
	}
	g, err := NewGateway(Config{Token: "t"}, func(schema.RawSignal) {})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if g.cfg.GatewayURL != defaultGatewayURL {
		t.Fatalf("gateway url mismatch: %s", g.cfg.GatewayURL)
	}
}

func messagePayload(t *testing.T, msg messageCreateData) []byte {
	t.Helper()
	data, err := sonic.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return data
}

func TestHandleMessage(t *testing.T) {
	testCases := []struct {
		desc     string
		channels []string
		msg      messageCreateData
		want     int
	}{
		{
			desc: "plain message passes",
			msg: messageCreateData{
				ID:        "1",
				ChannelID: "100",
				Content:   "long $BTC",
				Timestamp: time.Now().Format(time.RFC3339),
			},
			want: 1,
		},
		{
			desc: "bot message filtered",
			msg: func() messageCreateData {
				m := messageCreateData{ID: "2", ChannelID: "100", Content: "long $BTC"}
				m.Author.Bot = true
				return m
			}(),
			want: 0,
		},
		{
			desc:     "wrong channel filtered",
			channels: []string{"100"},
			msg:      messageCreateData{ID: "3", ChannelID: "999", Content: "long $BTC"},
			want:     0,
		},
		{
			desc:     "listed channel passes",
			channels: []string{"100", "200"},
			msg:      messageCreateData{ID: "4", ChannelID: "200", Content: "long $BTC"},
			want:     1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var got []schema.RawSignal
			g, err := NewGateway(Config{Token: "t", ChannelIDs: tc.channels}, collector(&got))
			if err != nil {
				t.Fatalf("NewGateway: %v", err)
			}
			g.handleMessage(messagePayload(t, tc.msg))
			if len(got) != tc.want {
				t.Fatalf("sink count mismatch! should be %d but got %d", tc.want, len(got))
			}
		})
	}
}

func TestHandleMessageFields(t *testing.T) {
	var got []schema.RawSignal
	g, err := NewGateway(Config{Token: "t"}, collector(&got))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	sent := time.Now().Add(-time.Second).UTC().Truncate(time.Second)
	msg := messageCreateData{
		ID:        "m-1",
		ChannelID: "chan-1",
		Content:   "short ETHUSDT size: 2",
		Timestamp: sent.Format(time.RFC3339),
	}
	msg.Author.Username = "caller"
	g.handleMessage(messagePayload(t, msg))

	if len(got) != 1 {
		t.Fatalf("sink count mismatch! should be 1 but got %d", len(got))
	}
	raw := got[0]
	if raw.SourceID != "m-1" || raw.Channel != "chan-1" || raw.Author != "caller" {
		t.Fatalf("raw signal mismatch: %+v", raw)
	}
	if raw.RawText != "short ETHUSDT size: 2" {
		t.Fatalf("text mismatch: %s", raw.RawText)
	}
	if !raw.Timestamp.Equal(sent) {
		t.Fatalf("timestamp mismatch! should be %s but got %s", sent, raw.Timestamp)
	}
}

func TestSendSerializesConcurrentWriters(t *testing.T) {
	upgrader := gws.Upgrader{}
	received := make(chan []byte, 256)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	g, err := NewGateway(Config{Token: "t"}, func(schema.RawSignal) {})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// heartbeat goroutine and read-loop replies write on the same conn
	const writers, perWriter = 8, 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := g.sendHeartbeat(conn); err != nil {
					t.Errorf("sendHeartbeat: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < writers*perWriter; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d heartbeats", i, writers*perWriter)
		}
	}
}

func TestHandleMessageBadTimestampFallsBack(t *testing.T) {
	var got []schema.RawSignal
	g, _ := NewGateway(Config{Token: "t"}, collector(&got))

	g.handleMessage(messagePayload(t, messageCreateData{
		ID: "m-1", ChannelID: "c", Content: "x", Timestamp: "not a time",
	}))
	if len(got) != 1 {
		t.Fatalf("sink count mismatch! should be 1 but got %d", len(got))
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("timestamp not defaulted")
	}
}
