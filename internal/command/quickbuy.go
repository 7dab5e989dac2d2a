package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pm_terminal/internal/dispatch"
	"pm_terminal/internal/domain"

	"github.com/shopspring/decimal"
)

func (h *Handlers) handleQuickBuy(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	qb := h.deps.QuickBuy
	if qb == nil {
		return dispatch.Fail("QuickBuy not available"), nil
	}
	if len(req.Parts) < 2 {
		return dispatch.Fail("Usage: quickbuy [see|setup|execute|pending|cancel|profile|football] <args>"), nil
	}

	switch sub := strings.ToLower(req.Arg(1)); sub {
	case "see":
		return dispatch.OK(qb.Summary()), nil

	case "setup":
		if len(req.Parts) < 4 {
			return dispatch.Fail("Usage: quickbuy setup <property> <value>"), nil
		}
		msg, err := qb.UpdateProperty(ctx, req.Arg(2), strings.Join(req.Parts[3:], " "))
		if err != nil {
			return dispatch.Fail(capitalize(err.Error())), nil
		}
		return dispatch.OK(msg), nil

	case "execute":
		outcome, ok := domain.ParseOutcome(req.Arg(2))
		if !ok {
			return dispatch.Fail("Usage: quickbuy execute <yes|no>"), nil
		}
		var balance decimal.NullDecimal
		if v := req.Param("balance"); v != "" {
			if d, err := decimal.NewFromString(v); err == nil {
				balance = decimal.NewNullDecimal(d)
			}
		}
		exec, err := qb.Execute(ctx, outcome, balance)
		if err != nil {
			return dispatch.Fail("Quick buy failed: " + err.Error()), nil
		}
		data := map[string]any{"order": exec.Order}
		if exec.AutoSell != nil {
			data["auto_sell_deadline"] = exec.AutoSell.Deadline
		}
		return dispatch.OK(exec.Message()).WithData(data), nil

	case "pending":
		return h.quickbuyPending(), nil

	case "cancel":
		id := req.Arg(2)
		if id == "" {
			return dispatch.Fail("Usage: quickbuy cancel <order_id>"), nil
		}
		msg, err := qb.CancelAutoSell(id)
		if errors.Is(err, domain.ErrNoPendingAutoSell) {
			return dispatch.Fail(fmt.Sprintf("No pending auto-sell for order %s", id)), nil
		}
		if err != nil {
			return nil, err
		}
		return dispatch.OK(msg), nil

	case "profile":
		return h.quickbuyProfile(ctx, req)

	case "football":
		return h.quickbuyFootball(req)

	default:
		return dispatch.Fail(fmt.Sprintf("Unknown quickbuy subcommand: %s", sub)), nil
	}
}

func (h *Handlers) quickbuyPending() *dispatch.Result {
	pending := h.deps.QuickBuy.Pending()
	if len(pending) == 0 {
		return dispatch.OK("No pending auto-sells")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending auto-sells (%d):\n", len(pending))
	for _, p := range pending {
		fmt.Fprintf(&b, "  %s: sell %s of %s in %s\n", p.OrderID, p.Size, shortToken(p.TokenID), time.Until(p.Deadline).Round(time.Second))
	}
	return dispatch.OK(strings.TrimRight(b.String(), "\n"))
}

func (h *Handlers) quickbuyProfile(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	qb := h.deps.QuickBuy
	var (
		msg string
		err error
	)
	switch action := strings.ToLower(req.Arg(2)); action {
	case "", "current":
		key, p := qb.Active()
		msg = fmt.Sprintf("Current profile: %s (%s, strategy=%s)", key, p.Name, p.Strategy)
	case "list":
		msg = qb.ListProfiles()
	case "switch":
		if req.Arg(3) == "" {
			return dispatch.Fail("Usage: quickbuy profile switch <name>"), nil
		}
		msg, err = qb.SwitchProfile(ctx, req.Arg(3))
	case "create":
		if req.Arg(3) == "" {
			return dispatch.Fail("Usage: quickbuy profile create <name> [base]"), nil
		}
		msg, err = qb.CreateProfile(ctx, req.Arg(3), req.Arg(4))
	default:
		return dispatch.Fail(fmt.Sprintf("Unknown profile action: %s. Use: current, list, switch, create", action)), nil
	}
	if err != nil {
		return dispatch.Fail(capitalize(err.Error())), nil
	}
	return dispatch.OK(msg), nil
}

func (h *Handlers) quickbuyFootball(req *dispatch.Request) (*dispatch.Result, error) {
	f, err := h.deps.QuickBuy.Football()
	if err != nil {
		return dispatch.Fail("Football commands need a football profile (quickbuy profile switch football)"), nil
	}
	state := f.State

	switch action := strings.ToLower(req.Arg(2)); action {
	case "score":
		home, err1 := strconv.Atoi(req.Arg(3))
		away, err2 := strconv.Atoi(req.Arg(4))
		if err1 != nil || err2 != nil {
			return dispatch.Fail("Usage: quickbuy football score <home> <away>"), nil
		}
		if err := state.SetScore(home, away); err != nil {
			return dispatch.Fail(capitalize(err.Error())), nil
		}
		return dispatch.OK(fmt.Sprintf("Score set: %d-%d", home, away)), nil

	case "time":
		minute, err := strconv.Atoi(req.Arg(3))
		if err != nil {
			return dispatch.Fail("Usage: quickbuy football time <minute> [+injury]"), nil
		}
		injury := 0
		if raw := strings.TrimPrefix(req.Arg(4), "+"); raw != "" {
			if injury, err = strconv.Atoi(raw); err != nil {
				return dispatch.Fail("Usage: quickbuy football time <minute> [+injury]"), nil
			}
		}
		if err := state.SetTime(minute, injury); err != nil {
			return dispatch.Fail(capitalize(err.Error())), nil
		}
		if injury > 0 {
			return dispatch.OK(fmt.Sprintf("Match time set: %d'+%d", minute, injury)), nil
		}
		return dispatch.OK(fmt.Sprintf("Match time set: %d'", minute)), nil

	case "timer":
		switch strings.ToLower(req.Arg(3)) {
		case "start":
			state.StartTimer()
			return dispatch.OK(fmt.Sprintf("Match timer started at %d'", state.Minute())), nil
		case "stop":
			state.StopTimer()
			return dispatch.OK(fmt.Sprintf("Match timer stopped at %d'", state.Minute())), nil
		default:
			return dispatch.Fail("Usage: quickbuy football timer <start|stop>"), nil
		}

	case "side":
		if err := state.SetSide(req.Arg(3)); err != nil {
			return dispatch.Fail(capitalize(err.Error())), nil
		}
		return dispatch.OK(fmt.Sprintf("Tracking side: %s", strings.ToLower(req.Arg(3)))), nil

	default:
		return dispatch.Fail(fmt.Sprintf("Unknown football action: %s. Use: score, time, timer, side", action)), nil
	}
}
