package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// fakeLedger answers logsSubscribe and then runs script on each accepted connection.
type fakeLedger struct {
	t           *testing.T
	rejectCode  int
	connections atomic.Int32
	script      func(conn *websocket.Conn, connIndex int32, subID uint64)
	lastParams  atomic.Value
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	idx := f.connections.Add(1)

	var req rpcRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	raw, _ := json.Marshal(req.Params)
	f.lastParams.Store(string(raw))

	if req.Method != methodLogsSubscribe {
		f.t.Errorf("method = %q, want %q", req.Method, methodLogsSubscribe)
	}
	if f.rejectCode != 0 {
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": f.rejectCode, "message": "invalid params"},
		})
		return
	}

	subID := uint64(100 + idx)
	_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID})
	if f.script != nil {
		f.script(conn, idx, subID)
	}
}

func notify(conn *websocket.Conn, subID, slot uint64, sig string, errValue any, logs ...string) error {
	return conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  methodLogsNotification,
		"params": map[string]any{
			"subscription": subID,
			"result": map[string]any{
				"context": map[string]any{"slot": slot},
				"value":   map[string]any{"signature": sig, "err": errValue, "logs": logs},
			},
		},
	})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("notification channel closed unexpectedly")
		}
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func TestClient_SubscribeAndReceive(t *testing.T) {
	ledger := &fakeLedger{t: t}
	ledger.script = func(conn *websocket.Conn, _ int32, subID uint64) {
		_ = notify(conn, subID+1, 1, "foreign", nil, "Program log: ignored")
		_ = notify(conn, subID, 7, "sigA", nil, "Program log: a", "Program log: b")
		_ = notify(conn, subID, 8, "sigB", map[string]any{"InstructionError": []any{0, "Custom"}}, "Program log: c")
		time.Sleep(200 * time.Millisecond)
	}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(wsURL(srv), "Escrow111", "confirmed")
	ch, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	first := receive(t, ch)
	if first.Sequence != 7 || first.Signature != "sigA" || first.Failed || len(first.Logs) != 2 {
		t.Errorf("first notification = %+v", first)
	}
	second := receive(t, ch)
	if second.Signature != "sigB" || !second.Failed {
		t.Errorf("second notification = %+v, want failed sigB", second)
	}

	params, _ := ledger.lastParams.Load().(string)
	if !strings.Contains(params, `"mentions":["Escrow111"]`) || !strings.Contains(params, `"commitment":"confirmed"`) {
		t.Errorf("subscribe params = %s", params)
	}
}

func TestClient_SubscribeRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeLedger{t: t, rejectCode: -32602})
	defer srv.Close()

	_, err := NewClient(wsURL(srv), "Escrow111", "finalized").Subscribe(context.Background())
	if err == nil || !strings.Contains(err.Error(), "-32602") {
		t.Fatalf("Subscribe() error = %v, want rejection", err)
	}
}

func TestClient_SubscribeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	if _, err := NewClient(url, "Escrow111", "finalized").Subscribe(context.Background()); err == nil {
		t.Fatal("Subscribe() expected error for unreachable endpoint")
	}
}

func TestClient_ReconnectsAfterDisconnect(t *testing.T) {
	ledger := &fakeLedger{t: t}
	ledger.script = func(conn *websocket.Conn, idx int32, subID uint64) {
		if idx == 1 {
			_ = notify(conn, subID, 1, "before", nil)
			return // drop the connection
		}
		_ = notify(conn, subID, 2, "after", nil)
		time.Sleep(500 * time.Millisecond)
	}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(wsURL(srv), "Escrow111", "finalized")
	client.SetReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)
	ch, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if n := receive(t, ch); n.Signature != "before" {
		t.Errorf("first notification = %q, want before", n.Signature)
	}
	if n := receive(t, ch); n.Signature != "after" {
		t.Errorf("second notification = %q, want after", n.Signature)
	}
	if got := ledger.connections.Load(); got < 2 {
		t.Errorf("connections = %d, want at least 2", got)
	}
}

func TestClient_ClosesChannelOnCancel(t *testing.T) {
	ledger := &fakeLedger{t: t}
	ledger.script = func(conn *websocket.Conn, _ int32, _ uint64) {
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
	srv := httptest.NewServer(ledger)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewClient(wsURL(srv), "Escrow111", "finalized").Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
