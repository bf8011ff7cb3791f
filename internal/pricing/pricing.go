// Package pricing implements C3: execution price derivation and currency
// conversion against the market cache (spec.md §4.3).
package pricing

import (
	"context"
	"errors"

	"trading-core/internal/instrument"
	"trading-core/internal/market"
	"trading-core/internal/money"
	"trading-core/internal/reason"
)

// Side is the order side used to pick which quote (bid/ask) to execute at.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ExecutionResult is the outcome of an execution-price lookup.
type ExecutionResult struct {
	OK         bool
	Reason     string
	ExecPrice  money.D
	RawPrice   money.D
	HalfSpread money.D
	GroupUsed  string
}

// Pricer computes execution prices and USD conversions.
type Pricer struct {
	groups *instrument.Store
	market *market.Cache
}

// NewPricer builds a Pricer over the given group-config store and market cache.
func NewPricer(groups *instrument.Store, mkt *market.Cache) *Pricer {
	return &Pricer{groups: groups, market: mkt}
}

// ExecutionPrice implements execution_price(user_group, symbol, side).
func (p *Pricer) ExecutionPrice(ctx context.Context, userGroup, symbol string, side Side) (ExecutionResult, error) {
	cfg, err := p.groups.Get(ctx, userGroup, symbol)
	if err != nil {
		if errors.Is(err, instrument.ErrNotFound) {
			return ExecutionResult{OK: false, Reason: reason.MissingGroupConfig}, nil
		}
		return ExecutionResult{}, err
	}
	if cfg.Spread.IsZero() && cfg.SpreadPip.IsZero() {
		return ExecutionResult{OK: false, Reason: reason.InvalidSpreadData, GroupUsed: cfg.Group}, nil
	}

	halfSpread := cfg.Spread.Mul(cfg.SpreadPip).Div(money.MustParse("2"))

	tick, ok := p.market.Get(symbol)
	if !ok {
		return ExecutionResult{OK: false, Reason: reason.MissingMarketPrice, GroupUsed: cfg.Group}, nil
	}

	var raw money.D
	switch side {
	case Buy:
		raw = tick.Ask
		ok = tick.HasAsk
	case Sell:
		raw = tick.Bid
		ok = tick.HasBid
	}
	if !ok {
		return ExecutionResult{OK: false, Reason: reason.MissingMarketPrice, GroupUsed: cfg.Group}, nil
	}

	var exec money.D
	if side == Buy {
		exec = raw.Add(halfSpread)
	} else {
		exec = raw.Sub(halfSpread)
	}
	exec = money.RoundPrice(exec, symbol)

	return ExecutionResult{
		OK:         true,
		ExecPrice:  exec,
		RawPrice:   raw,
		HalfSpread: halfSpread,
		GroupUsed:  cfg.Group,
	}, nil
}

// ConvertToUSD implements convert_to_usd(amount, from_currency). strict
// controls the miss behavior: strict mode signals a miss via ok=false;
// non-strict mode returns the input amount unchanged.
func (p *Pricer) ConvertToUSD(amount money.D, fromCurrency string, strict bool) (result money.D, ok bool) {
	if fromCurrency == "" || fromCurrency == "USD" {
		return amount, true
	}

	if tick, found := p.market.Get(fromCurrency + "USD"); found && tick.HasAsk {
		return amount.Mul(tick.Ask), true
	}
	if tick, found := p.market.Get("USD" + fromCurrency); found && tick.HasAsk && !tick.Ask.IsZero() {
		return amount.Div(tick.Ask), true
	}

	if strict {
		return money.Zero, false
	}
	return amount, true
}
