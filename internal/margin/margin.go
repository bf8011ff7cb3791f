// Package margin implements C4: per-order margin, commission and the
// hedged per-symbol aggregation used to admit or reject new orders
// (spec.md §4.4).
package margin

import (
	"context"

	"trading-core/internal/instrument"
	"trading-core/internal/money"
	"trading-core/internal/pricing"
	"trading-core/internal/reason"
)

// CommissionType values (spec.md §4.4 "commission_type ∈ {0,1,2}";
// original_source commission_calculator.py: entry applies on {0,1}, exit
// applies on {0,2}).
const (
	CommissionEveryTrade = 0 // entry and exit both charged
	CommissionEntryOnly  = 1 // entry only
	CommissionExitOnly   = 2 // exit only
)

// CommissionValueType selects how CommissionValue is interpreted
// (original_source commission_calculator.py).
const (
	CommissionPerLot  = 0
	CommissionPercent = 1
)

// OrderMarginResult is the outcome of a per-order margin calculation.
type OrderMarginResult struct {
	OK            bool
	Reason        string
	MarginUSD     money.D
	CommissionUSD money.D
}

// Engine computes margin and commission figures.
type Engine struct {
	pricer *pricing.Pricer
}

// NewEngine builds a margin Engine over the given pricer (for USD conversion).
func NewEngine(pricer *pricing.Pricer) *Engine {
	return &Engine{pricer: pricer}
}

// OrderMargin computes the margin (in profit currency, converted to USD)
// and entry commission for one order.
func (e *Engine) OrderMargin(ctx context.Context, cfg instrument.GroupConfig, qty, execPrice, leverage money.D, commissionType int) (OrderMarginResult, error) {
	if leverage.IsZero() {
		return OrderMarginResult{OK: false, Reason: reason.InvalidLeverage}, nil
	}

	marginProfitCcy := cfg.ContractSize.Mul(qty).Mul(execPrice).Div(leverage)
	if cfg.IsCrypto() {
		factor := cfg.CrossMarginFactor
		if factor.IsZero() {
			factor = money.MustParse("1")
		}
		marginProfitCcy = marginProfitCcy.Mul(factor)
	}

	marginUSD, ok := e.pricer.ConvertToUSD(marginProfitCcy, cfg.ProfitCurrency, true)
	if !ok {
		return OrderMarginResult{OK: false, Reason: reason.ConversionRateMissing}, nil
	}

	var commissionUSD money.D
	if commissionType == CommissionEveryTrade || commissionType == CommissionEntryOnly {
		commissionProfitCcy := e.commission(cfg, qty, execPrice)
		commissionUSD, ok = e.pricer.ConvertToUSD(commissionProfitCcy, cfg.ProfitCurrency, true)
		if !ok {
			return OrderMarginResult{OK: false, Reason: reason.ConversionRateMissing}, nil
		}
	}

	return OrderMarginResult{
		OK:            true,
		MarginUSD:     money.RoundCurrency(marginUSD),
		CommissionUSD: money.RoundCurrency(commissionUSD),
	}, nil
}

// ExitCommission computes the exit-leg commission, applied on
// CommissionEveryTrade and CommissionExitOnly.
func (e *Engine) ExitCommission(cfg instrument.GroupConfig, qty, execPrice money.D, commissionType int) (money.D, bool) {
	if commissionType != CommissionEveryTrade && commissionType != CommissionExitOnly {
		return money.Zero, true
	}
	commissionProfitCcy := e.commission(cfg, qty, execPrice)
	commissionUSD, ok := e.pricer.ConvertToUSD(commissionProfitCcy, cfg.ProfitCurrency, true)
	if !ok {
		return money.Zero, false
	}
	return money.RoundCurrency(commissionUSD), true
}

func (e *Engine) commission(cfg instrument.GroupConfig, qty, execPrice money.D) money.D {
	switch cfg.CommissionValueType {
	case CommissionPercent:
		return cfg.CommissionValue.Div(money.MustParse("100")).Mul(cfg.ContractSize).Mul(qty).Mul(execPrice)
	default: // per-lot
		return qty.Mul(cfg.CommissionValue)
	}
}

// RealizedPnL computes the gain/loss on a closed order, in the profit
// currency and then converted to USD (the returned value is the USD figure,
// rounded to 2 places): BUY gains when close > entry, SELL gains when
// close < entry, scaled by
// contract_size and quantity exactly as the entry margin calc is (spec.md
// §4.7 "recompute realized P&L" — the spec names the step but not the
// formula, so this mirrors compute_single_order_margin's contract_value
// scaling rather than inventing a separate one).
func (e *Engine) RealizedPnL(ctx context.Context, cfg instrument.GroupConfig, side pricing.Side, qty, entryPrice, closePrice money.D) (money.D, bool) {
	delta := closePrice.Sub(entryPrice)
	if side == pricing.Sell {
		delta = entryPrice.Sub(closePrice)
	}
	pnlProfitCcy := cfg.ContractSize.Mul(qty).Mul(delta)
	pnlUSD, ok := e.pricer.ConvertToUSD(pnlProfitCcy, cfg.ProfitCurrency, true)
	if !ok {
		return money.Zero, false
	}
	return money.RoundCurrency(pnlUSD), true
}

// PositionLeg is one open order's contribution to a symbol's hedged
// aggregation.
type PositionLeg struct {
	Side      pricing.Side
	Qty       money.D
	MarginUSD money.D
}

// SymbolContribution implements the hedged per-symbol aggregation law
// (spec.md §4.4, §8 testable property 4): net_qty = max(buy_qty, sell_qty),
// per_lot_max = max(margin_usd/qty) across the symbol's legs, contribution
// = per_lot_max * net_qty.
func SymbolContribution(legs []PositionLeg) money.D {
	buyQty, sellQty := money.Zero, money.Zero
	perLotMax := money.Zero

	for _, leg := range legs {
		if leg.Qty.IsZero() {
			continue
		}
		switch leg.Side {
		case pricing.Buy:
			buyQty = buyQty.Add(leg.Qty)
		case pricing.Sell:
			sellQty = sellQty.Add(leg.Qty)
		}
		perLot := leg.MarginUSD.Div(leg.Qty)
		perLotMax = money.Max(perLotMax, perLot)
	}

	netQty := money.Max(buyQty, sellQty)
	return money.RoundCurrency(perLotMax.Mul(netQty))
}

// TotalUserMargin sums SymbolContribution across every symbol a user holds
// positions in.
func TotalUserMargin(bySymbol map[string][]PositionLeg) money.D {
	total := money.Zero
	for _, legs := range bySymbol {
		total = total.Add(SymbolContribution(legs))
	}
	return money.RoundCurrency(total)
}

// FreeMargin implements free_margin = wallet_balance + unrealized_pl -
// used_margin_usd (spec.md §4.4).
func FreeMargin(walletBalance, unrealizedPL, usedMarginUSD money.D) money.D {
	return money.RoundCurrency(walletBalance.Add(unrealizedPL).Sub(usedMarginUSD))
}

// AdmitOrder simulates adding a new order's margin to a user's existing
// total margin and checks that the resulting free margin would stay
// non-negative. This is the admission gate used by the order executor (C5).
func AdmitOrder(walletBalance, unrealizedPL, existingUsedMarginUSD, candidateMarginUSD money.D) (ok bool, freeMarginAfter money.D) {
	after := FreeMargin(walletBalance, unrealizedPL, existingUsedMarginUSD.Add(candidateMarginUSD))
	return !after.IsNegative(), after
}
