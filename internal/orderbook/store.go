package orderbook

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/event"
)

// Store holds one Book per token. Books are created lazily and only removed by Clear.
type Store struct {
	mu     sync.RWMutex
	books  map[string]*Book
	slugs  map[string]string
	logger *slog.Logger
}

// NewStore creates an empty store. A nil logger falls back to slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		books:  make(map[string]*Book),
		slugs:  make(map[string]string),
		logger: logger.With(slog.String("component", "orderbook")),
	}
}

func (s *Store) book(tokenID string) *Book {
	s.mu.RLock()
	b, ok := s.books[tokenID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[tokenID]; ok {
		return b
	}
	b = newBook(tokenID, s.slugs[tokenID])
	s.books[tokenID] = b
	return b
}

// Apply routes a book event to the book(s) it addresses and returns a view of
// every book it mutated. Non-book events are ignored.
func (s *Store) Apply(ev event.Event) ([]View, error) {
	switch e := ev.(type) {
	case *event.BookSnapshot:
		if e.TokenID == "" {
			return nil, fmt.Errorf("book snapshot: %w", domain.ErrUnroutable)
		}
		b := s.book(e.TokenID)
		b.applySnapshot(e)
		return []View{b.View()}, nil

	case *event.PriceChange:
		return s.applyPriceChange(e)

	case *event.LastTrade:
		if e.TokenID == "" {
			return nil, fmt.Errorf("last trade: %w", domain.ErrUnroutable)
		}
		b := s.book(e.TokenID)
		b.applyTrade(e)
		return []View{b.View()}, nil

	default:
		return nil, nil
	}
}

func (s *Store) applyPriceChange(e *event.PriceChange) ([]View, error) {
	if e.TokenID != "" {
		b := s.book(e.TokenID)
		for _, entry := range e.Changes {
			if !s.usable(entry) {
				continue
			}
			b.applyChange(entry, e.Timestamp)
		}
		return []View{b.View()}, nil
	}

	// No top-level token: every entry is an independent update to its own book.
	touched := make([]string, 0, len(e.Changes))
	seen := make(map[string]bool, len(e.Changes))
	for _, entry := range e.Changes {
		if entry.TokenID == "" {
			s.logger.Warn("price change entry without token id", slog.String("price", entry.Price.String()))
			continue
		}
		if !s.usable(entry) {
			continue
		}
		s.book(entry.TokenID).applyChange(entry, e.Timestamp)
		if !seen[entry.TokenID] {
			seen[entry.TokenID] = true
			touched = append(touched, entry.TokenID)
		}
	}
	if len(touched) == 0 {
		return nil, fmt.Errorf("price change: %w", domain.ErrUnroutable)
	}

	views := make([]View, 0, len(touched))
	for _, id := range touched {
		views = append(views, s.book(id).View())
	}
	return views, nil
}

// usable reports whether a delta names a side and a price. Anything else
// would land on the wrong side or at price zero.
func (s *Store) usable(entry event.PriceChangeEntry) bool {
	switch {
	case entry.Side != domain.SideBuy && entry.Side != domain.SideSell:
		s.logger.Warn("price change entry without side",
			slog.String("token", entry.TokenID), slog.String("price", entry.Price.String()))
		return false
	case !entry.Price.IsPositive():
		s.logger.Warn("price change entry without price",
			slog.String("token", entry.TokenID), slog.String("side", string(entry.Side)))
		return false
	}
	return true
}

// Reset swaps in an empty book for each token, discarding any earlier state.
// Known market slugs are kept.
func (s *Store) Reset(tokenIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tokenIDs {
		if id != "" {
			s.books[id] = newBook(id, s.slugs[id])
		}
	}
}

// Get returns a view of the token's book.
func (s *Store) Get(tokenID string) (View, bool) {
	s.mu.RLock()
	b, ok := s.books[tokenID]
	s.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return b.View(), true
}

// All returns a view of every book keyed by token id.
func (s *Store) All() map[string]View {
	s.mu.RLock()
	books := make([]*Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	s.mu.RUnlock()

	out := make(map[string]View, len(books))
	for _, b := range books {
		v := b.View()
		out[v.TokenID] = v
	}
	return out
}

// Tokens returns the known token ids, sorted.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SetMarketSlugs records token → market slug and updates existing books.
func (s *Store) SetMarketSlugs(tokenToMarket map[string]string) {
	s.mu.Lock()
	for token, slug := range tokenToMarket {
		s.slugs[token] = slug
	}
	books := make(map[string]*Book, len(tokenToMarket))
	for token := range tokenToMarket {
		if b, ok := s.books[token]; ok {
			books[token] = b
		}
	}
	s.mu.Unlock()

	for token, b := range books {
		b.setMarketSlug(tokenToMarket[token])
	}
}

// Clear drops every book and slug.
func (s *Store) Clear() {
	s.mu.Lock()
	s.books = make(map[string]*Book)
	s.slugs = make(map[string]string)
	s.mu.Unlock()
}

// Len returns the number of books.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
