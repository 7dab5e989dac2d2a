package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownType is returned for well-formed messages of a type the terminal does not consume.
	ErrUnknownType = errors.New("unknown event type")

	// ErrEmptyMessage is returned for blank frames.
	ErrEmptyMessage = errors.New("empty message")
)

// wireNum accepts quoted or bare numbers; "" and null leave it unset.
type wireNum struct {
	d  decimal.Decimal
	ok bool
}

func (n *wireNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", s, err)
	}
	n.d, n.ok = d, true
	return nil
}

func (n wireNum) null() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: n.d, Valid: n.ok}
}

// wireString accepts a JSON string or a bare number (timestamps arrive as both).
type wireString string

func (s *wireString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = wireString(v)
		return nil
	}
	*s = wireString(b)
	return nil
}

type rawLevel struct {
	Price wireNum `json:"price"`
	Size  wireNum `json:"size"`
}

type rawChange struct {
	AssetID string  `json:"asset_id"`
	TokenID string  `json:"token_id"`
	Short   string  `json:"a"`
	Side    string  `json:"side"`
	Price   wireNum `json:"price"`
	Size    wireNum `json:"size"`
	BestBid wireNum `json:"best_bid"`
	BestAsk wireNum `json:"best_ask"`
	Best    wireNum `json:"best"`
	Hash    string  `json:"hash"`
}

type rawMessage struct {
	EventType    string      `json:"event_type"`
	Kind         string      `json:"type"`
	ID           string      `json:"id"`
	AssetID      string      `json:"asset_id"`
	TokenID      string      `json:"token_id"`
	Market       string      `json:"market"`
	Timestamp    wireString  `json:"timestamp"`
	Hash         string      `json:"hash"`
	Bids         []rawLevel  `json:"bids"`
	Asks         []rawLevel  `json:"asks"`
	Buys         []rawLevel  `json:"buys"`
	Sells        []rawLevel  `json:"sells"`
	PriceChanges []rawChange `json:"price_changes"`
	PC           []rawChange `json:"pc"`
	Side         string      `json:"side"`
	Price        wireNum     `json:"price"`
	Size         wireNum     `json:"size"`
	OriginalSize wireNum     `json:"original_size"`
	FeeRateBps   wireString  `json:"fee_rate_bps"`
	Status       string      `json:"status"`
}

func (m *rawMessage) tokenID() string {
	if m.TokenID != "" {
		return m.TokenID
	}
	return m.AssetID
}

// Decode parses one websocket frame. A frame may hold a single object or a
// batch array; every element that decodes is returned even if others fail.
func Decode(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	if data[0] != '[' {
		ev, err := decodeOne(data)
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	events := make([]Event, 0, len(items))
	var errs []error
	for i, item := range items {
		ev, err := decodeOne(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

func decodeOne(data []byte) (Event, error) {
	var m rawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch m.EventType {
	case string(TypeBookSnapshot):
		bids, asks := m.Bids, m.Asks
		if len(bids) == 0 && len(m.Buys) > 0 {
			bids = m.Buys
		}
		if len(asks) == 0 && len(m.Sells) > 0 {
			asks = m.Sells
		}
		return &BookSnapshot{
			TokenID:   m.tokenID(),
			Market:    m.Market,
			Bids:      toLevels(bids),
			Asks:      toLevels(asks),
			Timestamp: string(m.Timestamp),
			Hash:      m.Hash,
		}, nil

	case string(TypePriceChange):
		raw := m.PriceChanges
		if len(raw) == 0 {
			raw = m.PC
		}
		changes := make([]PriceChangeEntry, 0, len(raw))
		for _, rc := range raw {
			changes = append(changes, toChange(rc))
		}
		return &PriceChange{
			TokenID:   m.tokenID(),
			Market:    m.Market,
			Timestamp: string(m.Timestamp),
			Changes:   changes,
		}, nil

	case string(TypeLastTrade):
		side, ok := domain.ParseSide(m.Side)
		if !ok {
			return nil, fmt.Errorf("decode last_trade_price: invalid side %q", m.Side)
		}
		return &LastTrade{
			TokenID:    m.tokenID(),
			Market:     m.Market,
			Side:       side,
			Price:      m.Price.d,
			Size:       m.Size.d,
			FeeRateBps: string(m.FeeRateBps),
			Timestamp:  string(m.Timestamp),
		}, nil

	case string(TypeUserOrder):
		side, _ := domain.ParseSide(m.Side)
		size := m.OriginalSize
		if !size.ok {
			size = m.Size
		}
		return &UserOrder{
			ID:        m.ID,
			Market:    m.Market,
			TokenID:   m.tokenID(),
			Side:      side,
			Size:      size.d,
			Price:     m.Price.d,
			Status:    m.Status,
			Timestamp: string(m.Timestamp),
		}, nil

	case string(TypeUserTrade):
		side, _ := domain.ParseSide(m.Side)
		fee, err := decimal.NewFromString(orZero(string(m.FeeRateBps)))
		if err != nil {
			return nil, fmt.Errorf("decode trade fee: %w", err)
		}
		return &UserTrade{
			ID:        m.ID,
			Market:    m.Market,
			TokenID:   m.tokenID(),
			Side:      side,
			Size:      m.Size.d,
			Price:     m.Price.d,
			Fee:       fee,
			Status:    m.Status,
			Timestamp: string(m.Timestamp),
		}, nil

	case "":
		if m.Kind == "" {
			return nil, fmt.Errorf("%w: no event_type or type", ErrUnknownType)
		}
		payload := make(map[string]any)
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode live event: %w", err)
		}
		return &LiveEvent{Kind: m.Kind, Payload: payload}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, m.EventType)
	}
}

func toLevels(raw []rawLevel) []Level {
	levels := make([]Level, 0, len(raw))
	for _, l := range raw {
		if !l.Price.ok {
			continue
		}
		levels = append(levels, Level{Price: l.Price.d, Size: l.Size.d})
	}
	return levels
}

func toChange(rc rawChange) PriceChangeEntry {
	token := rc.TokenID
	if token == "" {
		token = rc.AssetID
	}
	if token == "" {
		token = rc.Short
	}
	side, _ := domain.ParseSide(rc.Side)
	entry := PriceChangeEntry{
		TokenID: token,
		Side:    side,
		Price:   rc.Price.d,
		Size:    rc.Size.d,
		BestBid: rc.BestBid.null(),
		BestAsk: rc.BestAsk.null(),
		Hash:    rc.Hash,
	}
	// A bare "best" applies to whichever side the entry touches.
	if rc.Best.ok {
		if side == domain.SideSell && !entry.BestAsk.Valid {
			entry.BestAsk = rc.Best.null()
		}
		if side == domain.SideBuy && !entry.BestBid.Valid {
			entry.BestBid = rc.Best.null()
		}
	}
	return entry
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
