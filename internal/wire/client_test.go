package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades incoming connections and writes each queued frame
// before holding the socket open until the test finishes.
func wsServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep reading until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnDeliversParsedEvents(t *testing.T) {
	frames := []string{
		`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"42000.5","P":"1.0","v":"10"}`,
		`garbage frame`,
		`{"e":"kline","E":1700000060000,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"1","c":"2","h":"3","l":"0.5","v":"4","x":true}}`,
	}
	server := wsServer(t, frames)

	conn, err := Dial(context.Background(), wsURL(server), "btcusdt@ticker", time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if conn.Stream() != "btcusdt@ticker" {
		t.Fatalf("unexpected stream path %q", conn.Stream())
	}

	first := <-conn.Events()
	if first.Kind != KindTicker || first.Ticker.Price != 42000.5 {
		t.Fatalf("unexpected first event: %+v", first)
	}

	// The garbage frame is dropped, not fatal: the kline still arrives.
	second := <-conn.Events()
	if second.Kind != KindKlineFinal || second.Candle.Close != 2 {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	server := wsServer(t, nil)

	conn, err := Dial(context.Background(), wsURL(server), "btcusdt@depth", time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn.Close()
	conn.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected events channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestConnClosesEventsOnServerDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(server.Close)

	conn, err := Dial(context.Background(), wsURL(server), "btcusdt@depth", time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected closed events channel after server disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after disconnect")
	}
}
