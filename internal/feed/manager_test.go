package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/event"
	"pm_terminal/internal/orderbook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	subs    []Subscription
	streams map[Category]chan []byte
	ended   map[Category]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams: make(map[Category]chan []byte),
		ended:   make(map[Category]int),
	}
}

func (f *fakeTransport) Stream(ctx context.Context, sub Subscription, deliver func([]byte)) error {
	ch := make(chan []byte, 16)
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.streams[sub.Category] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.ended[sub.Category]++
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-ch:
			deliver(b)
		}
	}
}

func (f *fakeTransport) stream(t *testing.T, cat Category) chan []byte {
	t.Helper()
	var ch chan []byte
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch = f.streams[cat]
		return ch != nil
	}, time.Second, time.Millisecond)
	return ch
}

func (f *fakeTransport) endedCount(cat Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended[cat]
}

func validCreds() *domain.Credentials {
	return &domain.Credentials{APIKey: "k", Secret: "s", Passphrase: "p"}
}

func TestConnectMarket_NoTransportIsNoop(t *testing.T) {
	store := orderbook.NewStore(nil)
	m := NewManager(store, nil, nil)

	err := m.ConnectMarket(context.Background(), []string{"T1"}, MarketCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
	assert.False(t, m.IsConnected())
}

func TestConnectMarket_EnsuresBooksBeforeReturn(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, nil)
	defer m.DisconnectAll()

	require.NoError(t, m.ConnectMarket(context.Background(), []string{"T1", "T2"}, MarketCallbacks{}))

	all := store.All()
	require.Len(t, all, 2)
	assert.True(t, all["T1"].Empty())
	assert.True(t, all["T2"].Empty())
	assert.True(t, m.Status()[CategoryMarket])
	assert.False(t, m.Status()[CategoryUser])

	ft.stream(t, CategoryMarket)
	ft.mu.Lock()
	msg, _ := json.Marshal(ft.subs[0].Message)
	ft.mu.Unlock()
	assert.JSONEq(t, `{"type":"market","assets_ids":["T1","T2"]}`, string(msg))
}

func TestConnectMarket_RoutesToCallbacks(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, nil)
	defer m.DisconnectAll()

	books := make(chan orderbook.View, 4)
	changes := make(chan orderbook.View, 4)
	require.NoError(t, m.ConnectMarket(context.Background(), []string{"A", "B", "C"}, MarketCallbacks{
		OnBook:        func(v orderbook.View) { books <- v },
		OnPriceChange: func(v orderbook.View) { changes <- v },
	}))

	ch := ft.stream(t, CategoryMarket)
	ch <- []byte(`{"event_type":"book","asset_id":"A","bids":[{"price":"0.4","size":"1"}],"asks":[]}`)

	select {
	case v := <-books:
		assert.Equal(t, "A", v.TokenID)
		require.NotNil(t, v.BestBid)
		assert.Equal(t, "0.4", v.BestBid.Price.String())
	case <-time.After(time.Second):
		t.Fatal("no book callback")
	}

	ch <- []byte(`{"event_type":"price_change","price_changes":[
		{"asset_id":"A","side":"BUY","price":"0.41","size":"2","best_bid":"0.41"},
		{"asset_id":"B","side":"SELL","price":"0.6","size":"2","best_ask":"0.6"},
		{"asset_id":"C","side":"BUY","price":"0.1","size":"5","best_bid":"0.1"}]}`)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case v := <-changes:
			seen[v.TokenID] = true
		case <-time.After(time.Second):
			t.Fatal("missing price change callback")
		}
	}
	assert.Equal(t, map[string]bool{"A": true, "B": true, "C": true}, seen)

	b, _ := store.Get("B")
	assert.Empty(t, b.Bids)
	require.Len(t, b.Asks, 1)
}

func TestConnectMarket_BadMessagesDoNotStopFeed(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, nil)
	defer m.DisconnectAll()

	books := make(chan orderbook.View, 1)
	require.NoError(t, m.ConnectMarket(context.Background(), []string{"A"}, MarketCallbacks{
		OnBook: func(v orderbook.View) {
			books <- v
			panic("callback bug")
		},
	}))

	ch := ft.stream(t, CategoryMarket)
	ch <- []byte(`not json`)
	ch <- []byte(`{"event_type":"price_change","price_changes":[{"side":"BUY","price":"0.1","size":"1"}]}`)
	ch <- []byte(`{"event_type":"book","asset_id":"A"}`)
	ch <- []byte(`{"event_type":"book","asset_id":"A","bids":[{"price":"0.3","size":"1"}]}`)

	for i := 0; i < 2; i++ {
		select {
		case <-books:
		case <-time.After(time.Second):
			t.Fatal("feed stopped after bad message")
		}
	}
	assert.Equal(t, 1, store.Len())
}

func TestConnectMarket_ReplacesPriorConnection(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, nil)
	defer m.DisconnectAll()

	require.NoError(t, m.ConnectMarket(context.Background(), []string{"A"}, MarketCallbacks{}))
	ft.stream(t, CategoryMarket)
	require.NoError(t, m.ConnectMarket(context.Background(), []string{"B"}, MarketCallbacks{}))

	require.Eventually(t, func() bool { return ft.endedCount(CategoryMarket) == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Status()[CategoryMarket])
	assert.ElementsMatch(t, []string{"A", "B"}, store.Tokens())
}

func TestConnectMarket_ResetsBooksOnReconnect(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, nil)
	defer m.DisconnectAll()

	books := make(chan orderbook.View, 1)
	require.NoError(t, m.ConnectMarket(context.Background(), []string{"T1"}, MarketCallbacks{
		OnBook: func(v orderbook.View) { books <- v },
	}))
	ch := ft.stream(t, CategoryMarket)
	ch <- []byte(`{"event_type":"book","asset_id":"T1","bids":[{"price":"0.4","size":"10"}],"asks":[]}`)
	select {
	case v := <-books:
		require.Len(t, v.Bids, 1)
	case <-time.After(time.Second):
		t.Fatal("no book callback")
	}

	require.NoError(t, m.ConnectMarket(context.Background(), []string{"T1", "T2"}, MarketCallbacks{}))

	all := store.All()
	require.Len(t, all, 2)
	assert.True(t, all["T1"].Empty())
	assert.Nil(t, all["T1"].BestBid)
	assert.True(t, all["T2"].Empty())
}

func TestConnectUser(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		m := NewManager(orderbook.NewStore(nil), newFakeTransport(), nil)
		err := m.ConnectUser(context.Background(), nil, UserCallbacks{})
		assert.ErrorIs(t, err, domain.ErrMissingCredentials)

		m = NewManager(orderbook.NewStore(nil), newFakeTransport(), &domain.Credentials{APIKey: "k"})
		err = m.ConnectUser(context.Background(), nil, UserCallbacks{})
		assert.ErrorIs(t, err, domain.ErrMissingCredentials)
		assert.False(t, m.IsConnected())
	})

	t.Run("delivers orders and trades", func(t *testing.T) {
		ft := newFakeTransport()
		m := NewManager(orderbook.NewStore(nil), ft, validCreds())
		defer m.DisconnectAll()

		orders := make(chan *event.UserOrder, 1)
		trades := make(chan *event.UserTrade, 1)
		require.NoError(t, m.ConnectUser(context.Background(), nil, UserCallbacks{
			OnOrder: func(o *event.UserOrder) { orders <- o },
			OnTrade: func(tr *event.UserTrade) { trades <- tr },
		}))
		assert.True(t, m.IsConnected())

		ch := ft.stream(t, CategoryUser)
		ch <- []byte(`[{"event_type":"order","id":"o1","side":"BUY","price":"0.5","original_size":"10","status":"LIVE"},
			{"event_type":"trade","id":"t1","side":"BUY","price":"0.5","size":"10","fee_rate_bps":"0"}]`)

		select {
		case o := <-orders:
			assert.Equal(t, "o1", o.ID)
		case <-time.After(time.Second):
			t.Fatal("no order callback")
		}
		select {
		case tr := <-trades:
			assert.Equal(t, "t1", tr.ID)
		case <-time.After(time.Second):
			t.Fatal("no trade callback")
		}

		ft.mu.Lock()
		msg, _ := json.Marshal(ft.subs[0].Message)
		ft.mu.Unlock()
		assert.Contains(t, string(msg), `"apiKey":"k"`)
	})
}

func TestConnectLiveData(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(orderbook.NewStore(nil), ft, nil)
	defer m.DisconnectAll()

	got := make(chan *event.LiveEvent, 1)
	subs := []map[string]any{{"topic": "crypto_prices", "type": "update"}}
	require.NoError(t, m.ConnectLiveData(context.Background(), subs, func(e *event.LiveEvent) { got <- e }))

	ch := ft.stream(t, CategoryLive)
	ch <- []byte(`{"type":"update","topic":"crypto_prices","payload":{"value":1}}`)

	select {
	case e := <-got:
		assert.Equal(t, "update", e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}
}

func TestDisconnectAll(t *testing.T) {
	store := orderbook.NewStore(nil)
	ft := newFakeTransport()
	m := NewManager(store, ft, validCreds())

	require.NoError(t, m.ConnectMarket(context.Background(), []string{"T1", "T2"}, MarketCallbacks{}))
	require.NoError(t, m.ConnectUser(context.Background(), nil, UserCallbacks{}))
	ft.stream(t, CategoryMarket)
	ft.stream(t, CategoryUser)
	require.True(t, m.IsConnected())

	m.DisconnectAll()

	assert.False(t, m.IsConnected())
	for cat, ok := range m.Status() {
		assert.False(t, ok, cat)
	}
	assert.Equal(t, 0, store.Len())
	require.Eventually(t, func() bool {
		return ft.endedCount(CategoryMarket) == 1 && ft.endedCount(CategoryUser) == 1
	}, time.Second, time.Millisecond)

	// A later book event recreates the token lazily with no stale levels.
	_, err := store.Apply(&event.PriceChange{TokenID: "T1"})
	require.NoError(t, err)
	v, ok := store.Get("T1")
	require.True(t, ok)
	assert.True(t, v.Empty())
}
