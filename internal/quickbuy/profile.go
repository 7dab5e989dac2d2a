package quickbuy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pm_terminal/internal/strategy"

	"github.com/shopspring/decimal"
)

// Profile is one named quick-buy configuration.
type Profile struct {
	Name           string              `json:"name"`
	Strategy       strategy.Kind       `json:"strategy"`
	AmountPercent  float64             `json:"amount_percent"`
	AutoSell       bool                `json:"auto_sell"`
	AutoSellTime   int                 `json:"auto_sell_time"` // seconds
	ShortcutYes    string              `json:"shortcut_yes"`
	ShortcutNo     string              `json:"shortcut_no"`
	MaxProbability decimal.NullDecimal `json:"max_probability"`
	MaxShares      decimal.NullDecimal `json:"max_shares"`
	LastUpdated    string              `json:"last_updated,omitempty"`
}

// DefaultProfile returns the built-in settings for a new profile.
func DefaultProfile(name string) Profile {
	return Profile{
		Name:          name,
		Strategy:      strategy.KindGeneric,
		AmountPercent: 10,
		AutoSellTime:  30,
		ShortcutYes:   "ctrl+y",
		ShortcutNo:    "ctrl+n",
	}
}

func (p Profile) limits() strategy.Limits {
	return strategy.Limits{MaxProbability: p.MaxProbability, MaxShares: p.MaxShares}
}

// ProfileSet is the persisted document: every profile plus the active one.
type ProfileSet struct {
	Active   string             `json:"active_profile"`
	Profiles map[string]Profile `json:"profiles"`
}

func defaultProfileSet() ProfileSet {
	football := DefaultProfile("Football Live")
	football.Strategy = strategy.KindFootball
	football.AutoSell = true

	return ProfileSet{
		Active: "generic",
		Profiles: map[string]Profile{
			"generic":  DefaultProfile("Generic Trading"),
			"football": football,
		},
	}
}

func (s ProfileSet) names() []string {
	names := make([]string, 0, len(s.Profiles))
	for n := range s.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Properties lists what UpdateProperty accepts.
var Properties = []string{
	"name", "strategy", "amount_percent", "auto_sell", "auto_sell_time",
	"shortcut_yes", "shortcut_no", "max_probability", "max_shares",
}

// setProperty validates value and writes it into p. It returns the value as stored.
func (p *Profile) setProperty(prop, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch prop {
	case "name":
		if value == "" {
			return "", fmt.Errorf("name must not be empty")
		}
		p.Name = value
		return value, nil

	case "strategy":
		kind, ok := strategy.ParseKind(value)
		if !ok {
			return "", fmt.Errorf("unknown strategy %q (generic, football)", value)
		}
		p.Strategy = kind
		return string(kind), nil

	case "amount_percent":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("invalid value for amount_percent: %w", err)
		}
		if v <= 0 || v > 100 {
			return "", fmt.Errorf("amount_percent must be between 0 and 100")
		}
		p.AmountPercent = v
		return strconv.FormatFloat(v, 'f', -1, 64), nil

	case "auto_sell":
		switch strings.ToLower(value) {
		case "true", "yes", "1", "on":
			p.AutoSell = true
		default:
			p.AutoSell = false
		}
		return strconv.FormatBool(p.AutoSell), nil

	case "auto_sell_time":
		v, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("invalid value for auto_sell_time: %w", err)
		}
		if v < 0 {
			return "", fmt.Errorf("auto_sell_time must be >= 0")
		}
		p.AutoSellTime = v
		return strconv.Itoa(v), nil

	case "shortcut_yes", "shortcut_no":
		v := strings.ToLower(value)
		if v == "" || strings.Contains(v, " ") {
			return "", fmt.Errorf("%s must be a valid key combination (e.g., 'ctrl+y', 'alt+b')", prop)
		}
		if prop == "shortcut_yes" {
			p.ShortcutYes = v
		} else {
			p.ShortcutNo = v
		}
		return v, nil

	case "max_probability":
		nd, err := parseOptional(value)
		if err != nil {
			return "", fmt.Errorf("invalid value for max_probability: %w", err)
		}
		if nd.Valid && (!nd.Decimal.IsPositive() || nd.Decimal.GreaterThan(decimal.NewFromInt(1))) {
			return "", fmt.Errorf("max_probability must be in (0, 1]")
		}
		p.MaxProbability = nd
		return optionalString(nd), nil

	case "max_shares":
		nd, err := parseOptional(value)
		if err != nil {
			return "", fmt.Errorf("invalid value for max_shares: %w", err)
		}
		if nd.Valid && !nd.Decimal.IsPositive() {
			return "", fmt.Errorf("max_shares must be positive")
		}
		p.MaxShares = nd
		return optionalString(nd), nil

	default:
		return "", fmt.Errorf("invalid property '%s'. Valid: %s", prop, strings.Join(Properties, ", "))
	}
}

func parseOptional(value string) (decimal.NullDecimal, error) {
	switch strings.ToLower(value) {
	case "", "none", "null", "off":
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func optionalString(nd decimal.NullDecimal) string {
	if !nd.Valid {
		return "none"
	}
	return nd.Decimal.String()
}
