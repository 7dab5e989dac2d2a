// Package command holds the trading and control commands served by the
// command dispatcher. Commands are keyed by their first word.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"
	"pm_terminal/internal/feed"
	"pm_terminal/internal/infra"
	"pm_terminal/internal/orderbook"
	"pm_terminal/internal/quickbuy"
)

// ActiveTokenStore persists the current subscription. *storage.Storage satisfies it.
type ActiveTokenStore interface {
	SaveActiveTokens(ctx context.Context, rec *domain.ActiveTokens) error
	LoadActiveTokens(ctx context.Context) (*domain.ActiveTokens, error)
	DeleteActiveTokens(ctx context.Context) error
}

// Deps are the collaborators the command table drives. Any of them may be
// nil; the commands that need a missing one fail with a message.
type Deps struct {
	Feed     *feed.Manager
	Books    *orderbook.Store
	Metadata domain.MarketMetadata
	Client   domain.TradingClient
	Tokens   ActiveTokenStore
	QuickBuy *quickbuy.Manager
	Market   feed.MarketCallbacks
	User     feed.UserCallbacks
	Logger   *slog.Logger
	Metrics  *infra.Metrics
}

// Handlers is the command table.
type Handlers struct {
	deps       Deps
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New creates the command table.
func New(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Books == nil && deps.Feed != nil {
		deps.Books = deps.Feed.Store()
	}
	return &Handlers{deps: deps, logger: logger.With(slog.String("component", "commands"))}
}

// Register installs every command on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	h.dispatcher = d
	d.RegisterHandler("help", h.handleHelp)
	d.RegisterHandler("exit", h.handleExit)
	d.RegisterHandler("hello", h.handleHello)
	d.RegisterHandler("status", h.handleStatus)
	d.RegisterHandler("ws", h.handleWS)
	d.RegisterHandler("see", h.handleSee)
	d.RegisterHandler("buy", h.handleBuy)
	d.RegisterHandler("sell", h.handleSell)
	d.RegisterHandler("balance", h.handleBalance)
	d.RegisterHandler("orders", h.handleOrders)
	d.RegisterHandler("quickbuy", h.handleQuickBuy)
}

const helpText = `Available Commands:

GENERAL
  help                                  Show this help
  exit                                  Return to welcome screen
  status                                Show system status
  hello [name]                          Say hello

WEBSOCKET
  ws sub <token_ids...>                 Subscribe by token ids (space or comma separated)
  ws sub <slug>                         Subscribe by event or market slug
  ws sub                                Resubscribe to the saved tokens
  ws user                               Subscribe to your order and trade updates
  ws off                                Disconnect every feed
  ws status                             Show connection status

MARKETS
  see slug <slug>                       Look up an event or market slug
  see event <slug>                      Look up an event slug
  see market <slug>                     Look up a market slug

TRADING
  buy <YES|NO|token_id> <price> <size>  Place a buy order
  sell <YES|NO|token_id> <price> <size> Place a sell order
  balance                               Show wallet balance
  orders list                           Show open orders
  orders cancel <order_id|all>          Cancel one or all open orders

QUICKBUY
  quickbuy see                          Show configuration
  quickbuy setup <prop> <value>         Update a property of the active profile
  quickbuy execute <yes|no>             Execute a quick buy
  quickbuy pending                      Show pending auto-sells
  quickbuy cancel <order_id>            Cancel an auto-sell
  quickbuy profile current|list         Show profiles
  quickbuy profile switch <name>        Switch profile
  quickbuy profile create <name> [base] Create a profile

  Properties: amount_percent, auto_sell, auto_sell_time, shortcut_yes,
  shortcut_no, max_probability, max_shares, strategy, name

FOOTBALL (football profile)
  quickbuy football score <home> <away>
  quickbuy football time <minute> [+injury]
  quickbuy football timer <start|stop>
  quickbuy football side <home|away>`

func (h *Handlers) handleHelp(context.Context, *dispatch.Request) (*dispatch.Result, error) {
	return dispatch.OK(helpText), nil
}

func (h *Handlers) handleExit(context.Context, *dispatch.Request) (*dispatch.Result, error) {
	return dispatch.OK("Returning to welcome screen").WithNext("welcome"), nil
}

func (h *Handlers) handleHello(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	origin := req.Origin
	if origin == "" {
		origin = "unknown"
	}
	ts := time.Now().UTC().Format("2006-01-02 15:04:05")
	if name := req.Arg(1); name != "" {
		return dispatch.OK(fmt.Sprintf("Hello, %s! (from %s at %s UTC)", name, origin, ts)), nil
	}
	return dispatch.OK(fmt.Sprintf("Hello! (from %s at %s UTC)", origin, ts)), nil
}

func (h *Handlers) handleStatus(context.Context, *dispatch.Request) (*dispatch.Result, error) {
	lines := []string{"System Status:"}

	if h.dispatcher != nil {
		lines = append(lines, fmt.Sprintf("Commands dispatcher: running=%t queue=%d", h.dispatcher.Running(), h.dispatcher.QueueLen()))
	}

	if h.deps.Feed != nil {
		st := h.deps.Feed.Status()
		lines = append(lines, fmt.Sprintf("Feeds: connected=%t market=%t user=%t live_data=%t",
			h.deps.Feed.IsConnected(), st[feed.CategoryMarket], st[feed.CategoryUser], st[feed.CategoryLive]))
	} else {
		lines = append(lines, "Feeds: not configured")
	}

	if h.deps.Books != nil && h.deps.Books.Len() > 0 {
		lines = append(lines, fmt.Sprintf("Order books: %d token(s)", h.deps.Books.Len()))
		for _, id := range h.deps.Books.Tokens() {
			v, _ := h.deps.Books.Get(id)
			updated := "never"
			if !v.UpdatedAt.IsZero() && !v.Empty() {
				updated = time.Since(v.UpdatedAt).Round(time.Second).String() + " ago"
			}
			lines = append(lines, fmt.Sprintf("  - %s: %d bids, %d asks (updated %s)", shortToken(id), len(v.Bids), len(v.Asks), updated))
		}
	} else {
		lines = append(lines, "Order books: none")
	}

	if h.deps.Metrics != nil {
		s := h.deps.Metrics.Snapshot()
		lines = append(lines, fmt.Sprintf("Metrics: dispatched=%d failed=%d feed_messages=%d dropped=%d orders=%d",
			s.Dispatched, s.DispatchFailures, s.FeedMessages, s.FeedDropped, s.OrdersPlaced))
	}
	return dispatch.OK(strings.Join(lines, "\n")), nil
}

func shortToken(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + "..." + id[len(id)-4:]
}
