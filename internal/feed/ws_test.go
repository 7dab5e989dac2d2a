package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransport_SubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"book","asset_id":"T1"}`))

		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewWSTransport(nil, nil)
	tr.PingInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- tr.Stream(ctx, Subscription{
			Category: CategoryMarket,
			URL:      wsURL(srv),
			Message:  map[string]any{"type": "market", "assets_ids": []string{"T1"}},
		}, func(b []byte) { got <- string(b) })
	}()

	select {
	case msg := <-subscribed:
		assert.JSONEq(t, `{"type":"market","assets_ids":["T1"]}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received subscription")
	}

	select {
	case msg := <-got:
		assert.Contains(t, msg, `"event_type":"book"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
	assert.Empty(t, got, "PONG frames must not be delivered")
}

func TestWSTransport_Reconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := dials.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"n":`+string(rune('0'+n))+`}`))
		if n == 1 {
			conn.Close() // drop the first connection
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewWSTransport(nil, nil)
	tr.PingInterval = 0
	tr.Backoff = func(int) time.Duration { return 10 * time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go tr.Stream(ctx, Subscription{Category: CategoryMarket, URL: wsURL(srv)}, func(b []byte) { got <- string(b) })

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case msg := <-got:
			assert.Equal(t, want, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("did not receive %s", want)
		}
	}
	require.GreaterOrEqual(t, dials.Load(), int32(2))
}
