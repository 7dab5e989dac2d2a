package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pm_terminal/internal/domain"
	"pm_terminal/internal/infra"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://gamma-api.polymarket.com"

// Client resolves event and market slugs against the Gamma metadata API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit bounds outgoing requests. Non-positive values keep the default.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			rps = 5
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a metadata client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "gamma"))
	return c
}

var _ domain.MarketMetadata = (*Client)(nil)

// jsonList decodes fields that arrive either as a JSON array or as a string
// holding one, e.g. "[\"Yes\", \"No\"]".
type jsonList []string

func (l *jsonList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return fmt.Errorf("decode embedded list %q: %w", s, err)
	}
	*l = arr
	return nil
}

type market struct {
	Slug          string   `json:"slug"`
	Question      string   `json:"question"`
	ClobTokenIDs  jsonList `json:"clobTokenIds"`
	Outcomes      jsonList `json:"outcomes"`
	OutcomePrices jsonList `json:"outcomePrices"`
}

type gammaEvent struct {
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Markets []market `json:"markets"`
}

// ResolveSlug looks slug up as an event first, then as a market.
func (c *Client) ResolveSlug(ctx context.Context, slug string) (domain.SlugResolution, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.SlugResolution{}, fmt.Errorf("%w: empty slug", domain.ErrSlugNotFound)
	}

	res, ok, err := c.event(ctx, slug)
	if err != nil || ok {
		return res, err
	}
	res, ok, err = c.market(ctx, slug)
	if err != nil || ok {
		return res, err
	}
	return domain.SlugResolution{}, fmt.Errorf("%w: %s", domain.ErrSlugNotFound, slug)
}

// ResolveEvent looks slug up as an event only.
func (c *Client) ResolveEvent(ctx context.Context, slug string) (domain.SlugResolution, error) {
	return c.resolveOne(ctx, slug, "event", c.event)
}

// ResolveMarket looks slug up as a market only.
func (c *Client) ResolveMarket(ctx context.Context, slug string) (domain.SlugResolution, error) {
	return c.resolveOne(ctx, slug, "market", c.market)
}

func (c *Client) resolveOne(ctx context.Context, slug, kind string,
	lookup func(context.Context, string) (domain.SlugResolution, bool, error)) (domain.SlugResolution, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.SlugResolution{}, fmt.Errorf("%w: empty slug", domain.ErrSlugNotFound)
	}
	res, ok, err := lookup(ctx, slug)
	if err != nil {
		return domain.SlugResolution{}, err
	}
	if !ok {
		return domain.SlugResolution{}, fmt.Errorf("%w: %s %s", domain.ErrSlugNotFound, kind, slug)
	}
	return res, nil
}

func (c *Client) event(ctx context.Context, slug string) (domain.SlugResolution, bool, error) {
	var events []gammaEvent
	if err := c.get(ctx, "/events", slug, &events); err != nil {
		return domain.SlugResolution{}, false, err
	}
	if len(events) == 0 {
		return domain.SlugResolution{}, false, nil
	}
	ev := events[0]
	res := domain.SlugResolution{Kind: "event", Slug: ev.Slug, Title: ev.Title}
	for _, m := range ev.Markets {
		res.Tokens = append(res.Tokens, tokensOf(m)...)
	}
	if len(res.Tokens) == 0 {
		return domain.SlugResolution{}, false, nil
	}
	c.logger.Info("resolved event", slog.String("slug", slug), slog.Int("tokens", len(res.Tokens)))
	return res, true, nil
}

func (c *Client) market(ctx context.Context, slug string) (domain.SlugResolution, bool, error) {
	var markets []market
	if err := c.get(ctx, "/markets", slug, &markets); err != nil {
		return domain.SlugResolution{}, false, err
	}
	if len(markets) == 0 {
		return domain.SlugResolution{}, false, nil
	}
	m := markets[0]
	res := domain.SlugResolution{Kind: "market", Slug: m.Slug, Title: m.Question, Tokens: tokensOf(m)}
	if len(res.Tokens) == 0 {
		return domain.SlugResolution{}, false, nil
	}
	c.logger.Info("resolved market", slog.String("slug", slug), slog.Int("tokens", len(res.Tokens)))
	return res, true, nil
}

func tokensOf(m market) []domain.TokenOutcome {
	out := make([]domain.TokenOutcome, 0, len(m.ClobTokenIDs))
	for i, id := range m.ClobTokenIDs {
		t := domain.TokenOutcome{TokenID: id, MarketSlug: m.Slug}
		if i < len(m.Outcomes) {
			t.Outcome = m.Outcomes[i]
		}
		if i < len(m.OutcomePrices) {
			if p, err := decimal.NewFromString(m.OutcomePrices[i]); err == nil {
				t.LastPrice = decimal.NewNullDecimal(p)
			}
		}
		out = append(out, t)
	}
	return out
}

func (c *Client) get(ctx context.Context, path, slug string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path + "?" + url.Values{"slug": {slug}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("gamma "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.NewNetworkError("gamma "+path, err)
		}
		return domain.NewFatalNetworkError("gamma "+path, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode gamma %s: %w", path, err)
	}
	return nil
}
