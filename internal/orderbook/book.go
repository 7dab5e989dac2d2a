package orderbook

import (
	"sync"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/event"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Level is one (price, size) pair.
type Level = event.Level

func bidLess(a, b Level) bool { return a.Price.GreaterThan(b.Price) }
func askLess(a, b Level) bool { return a.Price.LessThan(b.Price) }

// Book is the reconstructed order book of a single token.
// Bids iterate descending and asks ascending, so the first item on each side is the best price.
type Book struct {
	mu sync.Mutex

	tokenID    string
	marketSlug string

	bids *btree.BTreeG[Level]
	asks *btree.BTreeG[Level]

	bestBid *Level
	bestAsk *Level

	timestamp string
	hash      string
	updatedAt time.Time
}

func newBook(tokenID, marketSlug string) *Book {
	return &Book{
		tokenID:    tokenID,
		marketSlug: marketSlug,
		bids:       btree.NewBTreeG(bidLess),
		asks:       btree.NewBTreeG(askLess),
	}
}

func (b *Book) side(s domain.Side) (*btree.BTreeG[Level], **Level) {
	if s == domain.SideSell {
		return b.asks, &b.bestAsk
	}
	return b.bids, &b.bestBid
}

// applySnapshot replaces both sides wholesale.
func (b *Book) applySnapshot(ev *event.BookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear()
	b.asks.Clear()
	for _, l := range ev.Bids {
		b.bids.Set(l)
	}
	for _, l := range ev.Asks {
		b.asks.Set(l)
	}
	b.bestBid = first(b.bids)
	b.bestAsk = first(b.asks)
	b.timestamp = ev.Timestamp
	b.hash = ev.Hash
	b.touch()
}

// applyChange replaces the level at the entry's price on the entry's side.
// The best price for that side is taken from the feed when present.
func (b *Book) applyChange(entry event.PriceChangeEntry, timestamp string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree, best := b.side(entry.Side)
	tree.Delete(Level{Price: entry.Price})
	tree.Set(Level{Price: entry.Price, Size: entry.Size})

	if price, ok := entry.Best(); ok {
		lvl := Level{Price: price}
		if cur, found := tree.Get(lvl); found {
			lvl.Size = cur.Size
		}
		*best = &lvl
	} else {
		*best = first(tree)
	}
	if timestamp != "" {
		b.timestamp = timestamp
	}
	if entry.Hash != "" {
		b.hash = entry.Hash
	}
	b.touch()
}

// applyTrade decrements the traded level, floored at zero. An untouched price
// gets a zero-size placeholder so readers can see the level traded.
func (b *Book) applyTrade(ev *event.LastTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree, best := b.side(ev.Side)
	lvl := Level{Price: ev.Price, Size: decimal.Zero}
	if cur, ok := tree.Get(lvl); ok {
		lvl.Size = decimal.Max(cur.Size.Sub(ev.Size), decimal.Zero)
	}
	tree.Set(lvl)
	*best = first(tree)
	if ev.Timestamp != "" {
		b.timestamp = ev.Timestamp
	}
	b.touch()
}

func (b *Book) setMarketSlug(slug string) {
	b.mu.Lock()
	b.marketSlug = slug
	b.mu.Unlock()
}

func (b *Book) touch() {
	b.updatedAt = time.Now()
}

// View returns a consistent copy of the book.
func (b *Book) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	return View{
		TokenID:    b.tokenID,
		MarketSlug: b.marketSlug,
		Bids:       b.bids.Items(),
		Asks:       b.asks.Items(),
		BestBid:    copyLevel(b.bestBid),
		BestAsk:    copyLevel(b.bestAsk),
		Timestamp:  b.timestamp,
		Hash:       b.hash,
		UpdatedAt:  b.updatedAt,
	}
}

func first(tree *btree.BTreeG[Level]) *Level {
	l, ok := tree.Min()
	if !ok {
		return nil
	}
	return &l
}

func copyLevel(l *Level) *Level {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
