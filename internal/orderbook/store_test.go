package orderbook

import (
	"sync"
	"testing"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/event"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, size string) event.Level {
	return event.Level{Price: d(price), Size: d(size)}
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func TestSnapshot_SortsAndSetsBest(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Apply(&event.BookSnapshot{
		TokenID:   "T1",
		Bids:      []event.Level{lvl("0.40", "5"), lvl("0.45", "1"), lvl("0.30", "9")},
		Asks:      []event.Level{lvl("0.60", "2"), lvl("0.52", "3")},
		Timestamp: "100",
		Hash:      "abc",
	})
	require.NoError(t, err)

	v, ok := s.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "0.45", v.Bids[0].Price.String())
	assert.Equal(t, "0.3", v.Bids[2].Price.String())
	assert.Equal(t, "0.52", v.Asks[0].Price.String())
	assert.Equal(t, "0.45", v.BestBid.Price.String())
	assert.Equal(t, "0.52", v.BestAsk.Price.String())
	assert.Equal(t, "100", v.Timestamp)
	assert.Equal(t, "abc", v.Hash)
}

func TestSnapshotAfterDeltas_Overwrites(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Apply(&event.PriceChange{
		TokenID: "T1",
		Changes: []event.PriceChangeEntry{
			{Side: domain.SideBuy, Price: d("0.40"), Size: d("10"), BestBid: nd("0.40")},
			{Side: domain.SideBuy, Price: d("0.35"), Size: d("4"), BestBid: nd("0.40")},
		},
	})
	require.NoError(t, err)

	v, _ := s.Get("T1")
	require.NotNil(t, v.BestBid)
	assert.Equal(t, "0.4", v.BestBid.Price.String())

	_, err = s.Apply(&event.BookSnapshot{
		TokenID: "T1",
		Bids:    []event.Level{lvl("0.55", "7")},
	})
	require.NoError(t, err)

	v, _ = s.Get("T1")
	assert.Equal(t, "0.55", v.BestBid.Price.String())
	require.Len(t, v.Bids, 1)
	assert.Empty(t, v.Asks)
}

func TestPriceChange_ReplacesLevelAndTouchesOneSide(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(&event.BookSnapshot{
		TokenID: "T1",
		Bids:    []event.Level{lvl("0.50", "10")},
		Asks:    []event.Level{lvl("0.55", "3")},
	})
	require.NoError(t, err)

	_, err = s.Apply(&event.PriceChange{
		TokenID: "T1",
		Changes: []event.PriceChangeEntry{
			{Side: domain.SideSell, Price: d("0.55"), Size: d("8"), BestAsk: nd("0.55")},
			{Side: domain.SideSell, Price: d("0.54"), Size: d("1"), BestAsk: nd("0.54")},
		},
	})
	require.NoError(t, err)

	v, _ := s.Get("T1")
	require.Len(t, v.Asks, 2)
	assert.Equal(t, "0.54", v.Asks[0].Price.String())
	assert.Equal(t, "8", v.Asks[1].Size.String())
	assert.Equal(t, "0.54", v.BestAsk.Price.String())
	assert.Equal(t, "1", v.BestAsk.Size.String())

	require.Len(t, v.Bids, 1)
	assert.Equal(t, "10", v.Bids[0].Size.String())
}

func TestPriceChange_FansOutPerEntry(t *testing.T) {
	s := NewStore(nil)

	views, err := s.Apply(&event.PriceChange{
		Changes: []event.PriceChangeEntry{
			{TokenID: "A", Side: domain.SideBuy, Price: d("0.10"), Size: d("1"), BestBid: nd("0.10")},
			{TokenID: "B", Side: domain.SideBuy, Price: d("0.20"), Size: d("2"), BestBid: nd("0.20")},
			{TokenID: "C", Side: domain.SideSell, Price: d("0.30"), Size: d("3"), BestAsk: nd("0.30")},
		},
	})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, 3, s.Len())

	for id, want := range map[string]string{"A": "0.1", "B": "0.2"} {
		v, ok := s.Get(id)
		require.True(t, ok)
		require.Len(t, v.Bids, 1, id)
		assert.Equal(t, want, v.Bids[0].Price.String())
		assert.Empty(t, v.Asks, id)
	}
	c, _ := s.Get("C")
	assert.Empty(t, c.Bids)
	require.Len(t, c.Asks, 1)
}

func TestPriceChange_Unroutable(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Apply(&event.PriceChange{
		Changes: []event.PriceChangeEntry{{Side: domain.SideBuy, Price: d("0.1"), Size: d("1")}},
	})
	assert.ErrorIs(t, err, domain.ErrUnroutable)
	assert.Equal(t, 0, s.Len())

	_, err = s.Apply(&event.BookSnapshot{})
	assert.ErrorIs(t, err, domain.ErrUnroutable)
}

func TestPriceChange_SkipsEntriesWithoutSideOrPrice(t *testing.T) {
	s := NewStore(nil)

	raw := `{"event_type":"price_change","asset_id":"T1","price_changes":[
		{"price":"0.42","size":"7","side":""},
		{"price":"0.43","size":"2","side":"HOLD"},
		{"size":"5","side":"BUY"},
		{"price":"0.44","size":"3","side":"SELL"}]}`
	events, err := event.Decode([]byte(raw))
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = s.Apply(events[0])
	require.NoError(t, err)

	v, ok := s.Get("T1")
	require.True(t, ok)
	assert.Empty(t, v.Bids)
	assert.Nil(t, v.BestBid)
	require.Len(t, v.Asks, 1)
	assert.Equal(t, "0.44", v.Asks[0].Price.String())

	// Per-entry routing drops the same entries.
	_, err = s.Apply(&event.PriceChange{
		Changes: []event.PriceChangeEntry{
			{TokenID: "T2", Price: d("0.30"), Size: d("1")},
			{TokenID: "T2", Side: domain.SideBuy, Size: d("1")},
		},
	})
	assert.ErrorIs(t, err, domain.ErrUnroutable)
	_, ok = s.Get("T2")
	assert.False(t, ok)
}

func TestTrade_FloorsAtZero(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(&event.BookSnapshot{TokenID: "T1", Bids: []event.Level{lvl("0.50", "10")}})
	require.NoError(t, err)

	_, err = s.Apply(&event.LastTrade{TokenID: "T1", Side: domain.SideBuy, Price: d("0.50"), Size: d("15")})
	require.NoError(t, err)

	v, _ := s.Get("T1")
	require.Len(t, v.Bids, 1)
	assert.Equal(t, "0.5", v.Bids[0].Price.String())
	assert.True(t, v.Bids[0].Size.IsZero())
	assert.False(t, v.Bids[0].Size.IsNegative())
}

func TestTrade_InsertsPlaceholder(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(&event.BookSnapshot{TokenID: "T1", Asks: []event.Level{lvl("0.60", "4")}})
	require.NoError(t, err)

	_, err = s.Apply(&event.LastTrade{TokenID: "T1", Side: domain.SideSell, Price: d("0.58"), Size: d("2")})
	require.NoError(t, err)

	v, _ := s.Get("T1")
	require.Len(t, v.Asks, 2)
	assert.Equal(t, "0.58", v.Asks[0].Price.String())
	assert.True(t, v.Asks[0].Size.IsZero())
	assert.Equal(t, "0.58", v.BestAsk.Price.String())
}

func TestClear_RecreatesLazily(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Apply(&event.BookSnapshot{TokenID: "T1", Bids: []event.Level{lvl("0.5", "1")}})
	require.NoError(t, err)
	s.SetMarketSlugs(map[string]string{"T1": "will-it-rain"})

	s.Clear()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("T1")
	assert.False(t, ok)

	_, err = s.Apply(&event.PriceChange{TokenID: "T1"})
	require.NoError(t, err)

	v, ok := s.Get("T1")
	require.True(t, ok)
	assert.True(t, v.Empty())
	assert.Empty(t, v.MarketSlug)
}

func TestResetAndSlugs(t *testing.T) {
	s := NewStore(nil)
	s.Reset("T2", "T1", "")
	assert.Equal(t, []string{"T1", "T2"}, s.Tokens())

	s.SetMarketSlugs(map[string]string{"T1": "m1", "T3": "m3"})
	v, _ := s.Get("T1")
	assert.Equal(t, "m1", v.MarketSlug)

	s.Reset("T3")
	v, _ = s.Get("T3")
	assert.Equal(t, "m3", v.MarketSlug)

	all := s.All()
	assert.Len(t, all, 3)
	assert.True(t, all["T2"].Empty())
}

func TestReset_DropsStateKeepsSlug(t *testing.T) {
	s := NewStore(nil)
	s.SetMarketSlugs(map[string]string{"T1": "m1"})
	_, err := s.Apply(&event.BookSnapshot{TokenID: "T1", Bids: []event.Level{lvl("0.40", "10")}})
	require.NoError(t, err)

	s.Reset("T1", "T2", "")

	assert.Equal(t, []string{"T1", "T2"}, s.Tokens())
	v, _ := s.Get("T1")
	assert.True(t, v.Empty())
	assert.Nil(t, v.BestBid)
	assert.Equal(t, "m1", v.MarketSlug)
}

func TestConcurrentTokens(t *testing.T) {
	s := NewStore(nil)
	tokens := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				price := decimal.New(int64(i), -3)
				_, _ = s.Apply(&event.PriceChange{
					TokenID: tok,
					Changes: []event.PriceChangeEntry{{Side: domain.SideBuy, Price: price, Size: d("1")}},
				})
			}
		}(tok)
	}
	wg.Wait()

	for _, tok := range tokens {
		v, ok := s.Get(tok)
		require.True(t, ok)
		assert.Len(t, v.Bids, 100)
		assert.Equal(t, "0.1", v.BestBid.Price.String())
	}
}

func TestView_MidSpread(t *testing.T) {
	v := View{BestBid: &Level{Price: d("0.40")}, BestAsk: &Level{Price: d("0.50")}}
	mid, ok := v.Mid()
	require.True(t, ok)
	assert.Equal(t, "0.45", mid.String())
	spread, _ := v.Spread()
	assert.Equal(t, "0.1", spread.String())

	_, ok = View{}.Mid()
	assert.False(t, ok)
}
