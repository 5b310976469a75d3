package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sofadb/sofa/pkg/types"
	wsHub "github.com/sofadb/sofa/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

// fakeProvider returns a status whose listener state can be changed.
type fakeProvider struct {
	mu    sync.Mutex
	state string
}

func (p *fakeProvider) set(state string) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *fakeProvider) Status() types.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.Status{
		UUID:        "test",
		Listener:    types.ListenerStatus{State: p.state, Host: "127.0.0.1", Port: 5984},
		GeneratedAt: time.Now().UTC(),
	}
}

func startHub(t *testing.T, p wsHub.Provider, interval time.Duration) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(p, interval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count: got %d, want %d", hub.Count(), want)
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateStatus(t *testing.T) {
	wsURL, _, _ := startHub(t, &fakeProvider{state: "listening"}, time.Hour)

	conn := dial(t, wsURL)
	m := readMessage(t, conn)
	if m.Event != wsHub.EventStatus {
		t.Errorf("event: got %q, want status", m.Event)
	}
	if m.Data.Listener.State != "listening" || m.Data.UUID != "test" {
		t.Errorf("data: %+v", m.Data)
	}
	if m.Data.GeneratedAt.IsZero() {
		t.Error("generated_at: missing")
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	p := &fakeProvider{state: "starting"}
	wsURL, _, _ := startHub(t, p, testInterval)

	conn := dial(t, wsURL)
	readMessage(t, conn)

	p.set("listening")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m := readMessage(t, conn); m.Data.Listener.State == "listening" {
			return
		}
	}
	t.Fatal("tick broadcast never carried the new state")
}

func TestHub_NotifyBroadcastsImmediately(t *testing.T) {
	p := &fakeProvider{state: "listening"}
	wsURL, hub, _ := startHub(t, p, time.Hour)

	conns := []*websocket.Conn{dial(t, wsURL), dial(t, wsURL)}
	for _, c := range conns {
		readMessage(t, c)
	}
	waitCount(t, hub, 2)

	p.set("draining")
	hub.Notify(wsHub.EventListener)

	for i, c := range conns {
		m := readMessage(t, c)
		if m.Event != wsHub.EventListener || m.Data.Listener.State != "draining" {
			t.Errorf("client %d: %+v", i, m)
		}
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, &fakeProvider{}, time.Hour)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_DisconnectClosesClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, &fakeProvider{}, time.Hour)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	hub.Disconnect()
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after Disconnect: %d", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNoStatusReceived) {
		t.Errorf("expected close frame, got %v", err)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, &fakeProvider{}, time.Hour)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(&fakeProvider{}, testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
