package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	gws "github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/websocket"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

const (
	defaultGatewayURL  = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultDialTimeout = 10 * time.Second
	helloTimeout       = 15 * time.Second
	// GUILDS | GUILD_MESSAGES | MESSAGE_CONTENT
	gatewayIntents = 1 | (1 << 9) | (1 << 15)
)

// Config tunes the gateway connection.
type Config struct {
	Token       string
	GatewayURL  string
	ChannelIDs  []string
	DialTimeout time.Duration
	Backoff     websocket.Backoff
}

func (c Config) withDefaults() Config {
	if c.GatewayURL == "" {
		c.GatewayURL = defaultGatewayURL
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.Backoff.Min <= 0 {
		c.Backoff = websocket.DefaultBackoff()
	}
	return c
}

// Sink receives every chat message that passes the channel filter.
type Sink func(schema.RawSignal)

// Gateway maintains a Discord gateway session and feeds chat messages to
// the sink. It reconnects with backoff and resumes the session where the
// gateway allows it.
type Gateway struct {
	cfg      Config
	sink     Sink
	channels map[string]struct{}

	// serializes the heartbeat goroutine and the read loop's writes;
	// gorilla allows a single concurrent writer
	writeMu sync.Mutex

	seq       atomic.Int64
	sessionID string
	resumeURL string
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

type messageCreateData struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// NewGateway builds a gateway reader. The sink must be non-blocking; the
// inbound pipeline buffer handles overload.
func NewGateway(cfg Config, sink Sink) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if cfg.Token == "" {
		return nil, errors.New("ingest: missing token")
	}
	if sink == nil {
		return nil, exception.ErrNilInstance
	}
	channels := make(map[string]struct{}, len(cfg.ChannelIDs))
	for _, id := range cfg.ChannelIDs {
		channels[id] = struct{}{}
	}
	return &Gateway{cfg: cfg, sink: sink, channels: channels}, nil
}

// Run connects and reads until the context is done. Connection faults are
// retried in place with backoff; only context cancellation ends the loop.
func (g *Gateway) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := g.session(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		attempt++
		wait := g.cfg.Backoff.Next(attempt)
		logs.Warnf("gateway session ended, attempt: %d retry in: %s err: %+v", attempt, wait, err)
		select {
		case <-ctx.Done():
			return nil
		case <-sys.Shutdown():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connect-identify-read cycle.
func (g *Gateway) session(ctx context.Context) error {
	url := g.cfg.GatewayURL
	if g.resumeURL != "" {
		url = g.resumeURL
	}

	dialer := gws.Dialer{HandshakeTimeout: g.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		g.resumeURL = ""
		return errors.Wrapf(err, "dial gateway %s", url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	heartbeatInterval, err := g.awaitHello(conn)
	if err != nil {
		return err
	}

	if g.sessionID != "" {
		err = g.sendResume(conn)
	} else {
		err = g.sendIdentify(conn)
	}
	if err != nil {
		return err
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatErr := make(chan error, 1)
	go g.heartbeat(hctx, conn, heartbeatInterval, heartbeatErr)

	go func() {
		<-hctx.Done()
		// unblock the reader
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		select {
		case err := <-heartbeatErr:
			return err
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read gateway")
		}

		var payload gatewayPayload
		if err := sonic.Unmarshal(data, &payload); err != nil {
			logs.Warnf("bad gateway payload: %+v", err)
			continue
		}
		if payload.S > 0 {
			g.seq.Store(payload.S)
		}

		switch payload.Op {
		case opDispatch:
			g.dispatch(payload)
		case opHeartbeat:
			if err := g.sendHeartbeat(conn); err != nil {
				return err
			}
		case opReconnect:
			return errors.New("gateway requested reconnect")
		case opInvalidSession:
			g.sessionID = ""
			g.resumeURL = ""
			g.seq.Store(0)
			return exception.ErrIngestSessionInvalid
		case opHeartbeatAck:
		default:
			logs.Debugf("unhandled gateway opcode: %d", payload.Op)
		}
	}
}

func (g *Gateway) awaitHello(conn *gws.Conn) (time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return 0, exception.ErrIngestHelloTimeout
	}
	var payload gatewayPayload
	if err := sonic.Unmarshal(data, &payload); err != nil {
		return 0, errors.Wrap(err, "decode hello")
	}
	if payload.Op != opHello {
		return 0, exception.ErrIngestUnknownOpcode
	}
	var hello helloData
	if err := sonic.Unmarshal(payload.D, &hello); err != nil {
		return 0, errors.Wrap(err, "decode hello data")
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, errors.New("gateway hello without heartbeat interval")
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

func (g *Gateway) sendIdentify(conn *gws.Conn) error {
	payload := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.cfg.Token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "sentinel",
				"device":  "sentinel",
			},
		},
	}
	return g.send(conn, payload)
}

func (g *Gateway) sendResume(conn *gws.Conn) error {
	payload := map[string]any{
		"op": opResume,
		"d": map[string]any{
			"token":      g.cfg.Token,
			"session_id": g.sessionID,
			"seq":        g.seq.Load(),
		},
	}
	logs.Infof("resuming gateway session: %s seq: %d", g.sessionID, g.seq.Load())
	return g.send(conn, payload)
}

func (g *Gateway) sendHeartbeat(conn *gws.Conn) error {
	return g.send(conn, map[string]any{"op": opHeartbeat, "d": g.seq.Load()})
}

func (g *Gateway) send(conn *gws.Conn, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode gateway payload")
	}
	g.writeMu.Lock()
	err = conn.WriteMessage(gws.TextMessage, data)
	g.writeMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write gateway payload")
	}
	return nil
}

func (g *Gateway) heartbeat(ctx context.Context, conn *gws.Conn, interval time.Duration, errCh chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sendHeartbeat(conn); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (g *Gateway) dispatch(payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready readyData
		if err := sonic.Unmarshal(payload.D, &ready); err != nil {
			logs.Warnf("decode ready failed: %+v", err)
			return
		}
		g.sessionID = ready.SessionID
		g.resumeURL = ready.ResumeGatewayURL
		logs.Infof("gateway session ready: %s", ready.SessionID)
	case "RESUMED":
		logs.Infof("gateway session resumed: %s", g.sessionID)
	case "MESSAGE_CREATE":
		g.handleMessage(payload.D)
	}
}

func (g *Gateway) handleMessage(data []byte) {
	var msg messageCreateData
	if err := sonic.Unmarshal(data, &msg); err != nil {
		logs.Warnf("decode message failed: %+v", err)
		return
	}
	if msg.Author.Bot {
		return
	}
	if len(g.channels) > 0 {
		if _, ok := g.channels[msg.ChannelID]; !ok {
			return
		}
	}

	ts, err := time.Parse(time.RFC3339, msg.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	g.sink(schema.RawSignal{
		SourceID:  msg.ID,
		Timestamp: ts,
		Author:    msg.Author.Username,
		Channel:   msg.ChannelID,
		RawText:   msg.Content,
	})
}
