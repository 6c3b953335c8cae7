package handler_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"github.com/jmerrifield20/tsa-ledger/internal/server/handler"
)

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ledger/stream"
	wc, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { wc.Close() })
	return wc
}

func TestStream_deliversEntriesInOrder(t *testing.T) {
	l := newTestLedger(t, nil)
	srv := httptest.NewServer(setupRouter(t, l))
	defer srv.Close()

	wc := dialStream(t, srv)
	waitFor(t, "subscriber", func() bool { return l.Subscribers() == 1 })

	features := []string{"Crop Planner", "Water Simulator", "Order Placed"}
	for _, f := range features {
		if _, err := l.Append(ctx, f, map[string]any{"feature": f}); err != nil {
			t.Fatal(err)
		}
	}

	for i, f := range features {
		wc.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg handler.StreamMessage
		if err := wc.ReadJSON(&msg); err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		if msg.Type != "entry" || msg.Entry == nil {
			t.Fatalf("message %d: unexpected frame %+v", i, msg)
		}
		if msg.Entry.Index != i+1 || msg.Entry.Feature != f {
			t.Errorf("message %d: got index %d feature %q", i, msg.Entry.Index, msg.Entry.Feature)
		}
		if h, _ := eventledger.ComputeHash(*msg.Entry); h != msg.Entry.Hash {
			t.Errorf("message %d: streamed entry hash does not recompute", i)
		}
	}
}

func TestStream_unsubscribesOnDisconnect(t *testing.T) {
	l := newTestLedger(t, nil)
	srv := httptest.NewServer(setupRouter(t, l))
	defer srv.Close()

	wc := dialStream(t, srv)
	waitFor(t, "subscriber", func() bool { return l.Subscribers() == 1 })

	wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	wc.Close()
	waitFor(t, "unsubscribe", func() bool { return l.Subscribers() == 0 })
}

func TestStream_closedOnShutdown(t *testing.T) {
	l := newTestLedger(t, nil)
	srv := httptest.NewServer(setupRouter(t, l))
	defer srv.Close()

	wc := dialStream(t, srv)
	waitFor(t, "subscriber", func() bool { return l.Subscribers() == 1 })

	l.Close()

	wc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := wc.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestEvents_SSE(t *testing.T) {
	l := newTestLedger(t, nil)
	srv := httptest.NewServer(setupRouter(t, l))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/ledger/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}
	waitFor(t, "subscriber", func() bool { return l.Subscribers() == 1 })

	appended, err := l.Append(ctx, "Dashboard Accessed", map[string]any{"ecoScore": "Silver"})
	if err != nil {
		t.Fatal(err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var event, data string
	timeout := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream ended before an entry arrived")
			}
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && event == "entry":
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		case <-timeout:
			t.Fatal("timed out waiting for SSE entry")
		}
	}

	var got eventledger.Entry
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("decode SSE data %q: %v", data, err)
	}
	if got.Index != appended.Index || got.Hash != appended.Hash {
		t.Errorf("SSE entry = %d/%s, want %d/%s", got.Index, got.Hash, appended.Index, appended.Hash)
	}
}
