package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/gameweaver/internal/game"
	"github.com/MrWong99/gameweaver/internal/health"
	"github.com/MrWong99/gameweaver/internal/hub"
)

// echoGame answers every envelope with a response naming the event and
// records voice chunks.
type echoGame struct {
	clients *hub.Registry

	mu     sync.Mutex
	chunks [][]byte
}

func (g *echoGame) Handle(_ context.Context, clientID string, env game.Envelope) {
	g.clients.Send(clientID, hub.Response("handled "+env.Event, false))
}

func (g *echoGame) PushVoiceChunk(chunk []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks = append(g.chunks, append([]byte(nil), chunk...))
	return true
}

func (g *echoGame) chunkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chunks)
}

type wireMsg struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *hub.Registry, *echoGame) {
	t.Helper()
	clients := hub.New()
	g := &echoGame{clients: clients}
	s := New(Config{}, clients, g, health.New(), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, clients, g
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+DefaultWSPath, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) wireMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var m wireMsg
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func write(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, typ, []byte(payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWS_Greeting(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts)

	m := readMsg(t, conn)
	if m.Event != "system" {
		t.Fatalf("first event = %q, want system", m.Event)
	}
	var data hub.SystemData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Message != MsgConnected {
		t.Errorf("greeting = %q, want %q", data.Message, MsgConnected)
	}
}

func TestWS_TextFramesReachGame(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts)
	readMsg(t, conn)

	write(t, conn, websocket.MessageText, `{"event":"command","data":{"command":"roll 1d6"}}`)
	m := readMsg(t, conn)
	if m.Event != "response" || !strings.Contains(string(m.Data), "handled command") {
		t.Errorf("reply = %s %s, want response naming command", m.Event, m.Data)
	}
}

func TestWS_MalformedText(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts)
	readMsg(t, conn)

	for _, payload := range []string{"not json", `{"data":{}}`} {
		write(t, conn, websocket.MessageText, payload)
		m := readMsg(t, conn)
		if m.Event != "system" || !strings.Contains(string(m.Data), "Malformed message.") {
			t.Errorf("payload %q: reply = %s %s, want malformed system error", payload, m.Event, m.Data)
		}
	}

	// The connection survives bad input.
	write(t, conn, websocket.MessageText, `{"event":"get_battle_state"}`)
	if m := readMsg(t, conn); m.Event != "response" {
		t.Errorf("event after malformed input = %q, want response", m.Event)
	}
}

func TestWS_BinaryFramesAreVoice(t *testing.T) {
	t.Parallel()
	ts, _, g := newTestServer(t)
	conn := dial(t, ts)
	readMsg(t, conn)

	write(t, conn, websocket.MessageBinary, "\x01\x00\x02\x00")
	eventually(t, func() bool { return g.chunkCount() == 1 })
}

func TestWS_BroadcastAndDisconnect(t *testing.T) {
	t.Parallel()
	ts, clients, _ := newTestServer(t)
	a := dial(t, ts)
	b := dial(t, ts)
	readMsg(t, a)
	readMsg(t, b)
	eventually(t, func() bool { return clients.Len() == 2 })

	clients.Broadcast(hub.System("The dragon wakes."))
	for _, c := range []*websocket.Conn{a, b} {
		if m := readMsg(t, c); !strings.Contains(string(m.Data), "The dragon wakes.") {
			t.Errorf("broadcast = %s, want dragon message", m.Data)
		}
	}

	_ = a.Close(websocket.StatusNormalClosure, "bye")
	eventually(t, func() bool { return clients.Len() == 1 })
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	ts, _, _ := newTestServer(t, WithMetrics(nil, metrics), WithMCP(mcp))

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/mcp", http.StatusAccepted},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestListen_PortRetry(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	s := New(Config{ListenAddr: "127.0.0.1:" + strconv.Itoa(busyPort), PortRetries: 10}, hub.New(), &echoGame{}, nil)
	addr, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Shutdown(context.Background())

	got := addr.(*net.TCPAddr).Port
	if got <= busyPort || got > busyPort+10 {
		t.Errorf("bound port %d, want in (%d, %d]", got, busyPort, busyPort+10)
	}
}

func TestListen_NoRetries(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	s := New(Config{ListenAddr: busy.Addr().String()}, hub.New(), &echoGame{}, nil)
	if _, err := s.Listen(); err == nil {
		t.Fatal("Listen on a busy port without retries succeeded")
	}
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()
	s := New(Config{ListenAddr: "127.0.0.1:0"}, hub.New(), &echoGame{}, health.New())
	addr, err := s.Listen()
	if err != nil {
		t.Fatal(err)
	}

	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	eventually(t, func() bool {
		resp, err := http.Get("http://" + addr.String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}
