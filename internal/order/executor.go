package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/idgen"
	"trading-core/internal/instrument"
	"trading-core/internal/margin"
	"trading-core/internal/money"
	"trading-core/internal/pricing"
	"trading-core/internal/reason"
	"trading-core/internal/statestore"
)

// Flow labels returned in Response.Flow.
const (
	FlowLocal    = "local"
	FlowProvider = "provider"
)

// ProviderPayload is the message the HTTP layer dispatches to the provider
// bridge in a background task after a QUEUED write (spec.md §4.5 step 5).
// It is never stored inside the idempotency record.
type ProviderPayload struct {
	OrderID   string  `json:"order_id"`
	UserType  string  `json:"user_type"`
	UserID    string  `json:"user_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Qty       money.D `json:"qty"`
	Price     money.D `json:"price"`
	IdemKey   string  `json:"idem_key,omitempty"`
	Timestamp int64   `json:"ts"`
}

// ExecuteResult is what execute_instant_order returns to its caller: the
// client-facing Response plus, on the provider path, the payload the HTTP
// layer must dispatch out-of-band.
type ExecuteResult struct {
	Response Response
	Provider *ProviderPayload
}

// Request is the input to execute_instant_order (spec.md §4.5).
type Request struct {
	Symbol         string
	Side           Side
	RequestedPrice money.D // caller-supplied reference price; authoritative on the provider path only
	Qty            money.D
	UserType       string
	UserID         string
	IdemKey        string
	StopLoss       money.D
	HasStopLoss    bool
	TakeProfit     money.D
	HasTakeProfit  bool
}

// TriggerRegistrar is the narrow interface C5 needs from C8 to register
// SL/TP on order admission, kept separate to avoid an import cycle between
// internal/order and internal/trigger.
type TriggerRegistrar interface {
	Register(ctx context.Context, orderID, symbol string, side Side, stopLoss money.D, hasSL bool, takeProfit money.D, hasTP bool) error
}

// Persister is the narrow interface C5 needs to enqueue a post-image for
// the external persistence service (order_db_update_queue).
type Persister interface {
	PublishOrderUpdate(ctx context.Context, o Order) error
}

// Executor implements C5, the Order Executor.
type Executor struct {
	state    *statestore.Store
	accounts *account.Store
	groups   *instrument.Store
	pricer   *pricing.Pricer
	margin   *margin.Engine
	ids      *idgen.OrderIDGenerator
	triggers TriggerRegistrar
	persist  Persister

	idempotencyTTL time.Duration
}

// NewExecutor builds an Executor with every dependency it needs to run
// execute_instant_order end to end.
func NewExecutor(
	state *statestore.Store,
	accounts *account.Store,
	groups *instrument.Store,
	pricer *pricing.Pricer,
	marginEngine *margin.Engine,
	ids *idgen.OrderIDGenerator,
	triggers TriggerRegistrar,
	persist Persister,
	idempotencyTTL time.Duration,
) *Executor {
	return &Executor{
		state: state, accounts: accounts, groups: groups, pricer: pricer,
		margin: marginEngine, ids: ids, triggers: triggers, persist: persist,
		idempotencyTTL: idempotencyTTL,
	}
}

func reject(r string) ExecuteResult {
	return ExecuteResult{Response: Response{OK: false, Reason: r}}
}

// ExecuteInstantOrder is the only place orders are born (spec.md §4.5).
func (e *Executor) ExecuteInstantOrder(ctx context.Context, req Request) (ExecuteResult, error) {
	// Step 1: idempotency reservation / replay.
	if req.IdemKey != "" {
		resp, replay, err := reserveIdempotency(ctx, e.state, req.UserType, req.UserID, req.IdemKey, e.idempotencyTTL)
		if err != nil {
			if err == ErrIdempotencyInProgress {
				log.Printf("order: idempotency conflict ut=%s uid=%s key=%s", req.UserType, req.UserID, req.IdemKey)
				return reject(reason.IdempotencyInProgress), nil
			}
			return ExecuteResult{}, fmt.Errorf("order: idempotency check: %w", err)
		}
		if replay {
			log.Printf("order: idempotent replay ut=%s uid=%s key=%s", req.UserType, req.UserID, req.IdemKey)
			return ExecuteResult{Response: resp}, nil
		}
	}

	result, err := e.admit(ctx, req)
	if err != nil {
		return ExecuteResult{}, err
	}

	// Store the final response under the idempotency key (never the
	// provider payload — spec.md §4.5 step 5).
	if req.IdemKey != "" {
		if err := finalizeIdempotency(ctx, e.state, req.UserType, req.UserID, req.IdemKey, result.Response, e.idempotencyTTL); err != nil {
			log.Printf("order: finalize idempotency failed ut=%s uid=%s key=%s: %v", req.UserType, req.UserID, req.IdemKey, err)
		}
	}
	return result, nil
}

func (e *Executor) admit(ctx context.Context, req Request) (ExecuteResult, error) {
	// Step 2: load UserConfig.
	user, err := e.accounts.Get(ctx, req.UserType, req.UserID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: load user config: %w", err)
	}
	if !user.Active() {
		return reject(reason.InvalidUserStatus), nil
	}
	if user.Leverage.IsZero() || user.Leverage.IsNegative() {
		return reject(reason.InvalidLeverage), nil
	}

	// Step 3: decide routing.
	if !user.SendingOrders {
		return e.executeLocal(ctx, req, user)
	}
	return e.executeProvider(ctx, req, user)
}

func (e *Executor) executeLocal(ctx context.Context, req Request, user account.UserConfig) (ExecuteResult, error) {
	priceResult, err := e.pricer.ExecutionPrice(ctx, user.Group, req.Symbol, pricing.Side(req.Side))
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: execution price: %w", err)
	}
	if !priceResult.OK {
		return reject(priceResult.Reason), nil
	}

	cfg, err := e.groups.Get(ctx, user.Group, req.Symbol)
	if err != nil {
		return reject(reason.MissingGroupConfig), nil
	}

	marginResult, err := e.margin.OrderMargin(ctx, cfg, req.Qty, priceResult.ExecPrice, user.Leverage, cfg.CommissionType)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: compute margin: %w", err)
	}
	if !marginResult.OK {
		return reject(marginResult.Reason), nil
	}

	existingMarginUSD, err := e.loadTotalUsedMargin(ctx, req.UserType, req.UserID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: load used margin: %w", err)
	}
	ok, _ := margin.AdmitOrder(user.WalletBalance, money.Zero, existingMarginUSD, marginResult.MarginUSD)
	if !ok {
		return reject(reason.InsufficientMargin), nil
	}

	orderID := e.ids.Next()
	now := time.Now().Unix()
	o := Order{
		OrderID:         orderID,
		UserType:        req.UserType,
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Qty,
		EntryPrice:      priceResult.ExecPrice,
		MarginUSD:       marginResult.MarginUSD,
		CommissionEntry: marginResult.CommissionUSD,
		Status:          StatusOpen,
		RedisStatus:     RedisStatusOpen,
		StopLoss:        req.StopLoss,
		HasStopLoss:     req.HasStopLoss,
		TakeProfit:      req.TakeProfit,
		HasTakeProfit:   req.HasTakeProfit,
		CreatedTS:       now,
	}

	if err := e.writeOpenOrder(ctx, o); err != nil {
		return ExecuteResult{}, fmt.Errorf("order: write open order: %w", err)
	}
	if err := e.writeOrderOwner(ctx, o); err != nil {
		log.Printf("order: owner index write failed for %s: %v", o.OrderID, err)
	}
	if err := e.bumpUsedMargin(ctx, req.UserType, req.UserID, existingMarginUSD.Add(marginResult.MarginUSD)); err != nil {
		log.Printf("order: used-margin snapshot update failed for %s: %v", o.OrderID, err)
	}

	if (o.HasStopLoss || o.HasTakeProfit) && e.triggers != nil {
		if err := e.triggers.Register(ctx, o.OrderID, o.Symbol, o.Side, o.StopLoss, o.HasStopLoss, o.TakeProfit, o.HasTakeProfit); err != nil {
			log.Printf("order: trigger registration failed for %s: %v", o.OrderID, err)
		}
	}

	if e.persist != nil {
		if err := e.persist.PublishOrderUpdate(ctx, o); err != nil {
			log.Printf("order: persistence publish failed for %s: %v", o.OrderID, err)
		}
	}

	log.Printf("order: admitted %s flow=local exec_price=%s margin_usd=%s", o.OrderID, o.EntryPrice, o.MarginUSD)

	return ExecuteResult{Response: Response{
		OK:          true,
		OrderID:     o.OrderID,
		OrderStatus: string(o.Status),
		Flow:        FlowLocal,
		ExecPrice:   o.EntryPrice.String(),
		MarginUSD:   o.MarginUSD.String(),
	}}, nil
}

func (e *Executor) executeProvider(ctx context.Context, req Request, user account.UserConfig) (ExecuteResult, error) {
	cfg, err := e.groups.Get(ctx, user.Group, req.Symbol)
	if err != nil {
		return reject(reason.MissingGroupConfig), nil
	}

	// Preliminary margin uses the caller-supplied requested price; the
	// provider will return the actual fill (spec.md §4.5 step 5).
	marginResult, err := e.margin.OrderMargin(ctx, cfg, req.Qty, req.RequestedPrice, user.Leverage, cfg.CommissionType)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: compute preliminary margin: %w", err)
	}
	if !marginResult.OK {
		return reject(marginResult.Reason), nil
	}

	existingMarginUSD, err := e.loadTotalUsedMargin(ctx, req.UserType, req.UserID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("order: load used margin: %w", err)
	}
	ok, _ := margin.AdmitOrder(user.WalletBalance, money.Zero, existingMarginUSD, marginResult.MarginUSD)
	if !ok {
		return reject(reason.InsufficientMargin), nil
	}

	orderID := e.ids.Next()
	now := time.Now().Unix()
	o := Order{
		OrderID:         orderID,
		UserType:        req.UserType,
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Qty,
		EntryPrice:      req.RequestedPrice,
		MarginUSD:       marginResult.MarginUSD,
		CommissionEntry: marginResult.CommissionUSD,
		Status:          StatusQueued,
		RedisStatus:     RedisStatusQueued,
		StopLoss:        req.StopLoss,
		HasStopLoss:     req.HasStopLoss,
		TakeProfit:      req.TakeProfit,
		HasTakeProfit:   req.HasTakeProfit,
		CreatedTS:       now,
	}

	if err := e.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return ExecuteResult{}, fmt.Errorf("order: write queued order: %w", err)
	}
	if err := e.writeOrderOwner(ctx, o); err != nil {
		log.Printf("order: owner index write failed for %s: %v", o.OrderID, err)
	}
	if err := e.state.SAdd(ctx, statestore.UserOrdersKey(o.UserType, o.UserID), o.OrderID); err != nil {
		log.Printf("order: user-orders index write failed for %s: %v", o.OrderID, err)
	}
	// Reserve the preliminary margin now, before the provider round-trip
	// completes, so a second concurrent order can't also be admitted
	// against the same free margin (spec.md §4.5 step 5, §8 testable
	// property on double-admission). C7's fill/reject worker corrects this
	// to the actual fill margin (or releases it entirely on a reject).
	if err := e.bumpUsedMargin(ctx, req.UserType, req.UserID, existingMarginUSD.Add(marginResult.MarginUSD)); err != nil {
		log.Printf("order: used-margin snapshot update failed for %s: %v", o.OrderID, err)
	}

	if e.persist != nil {
		if err := e.persist.PublishOrderUpdate(ctx, o); err != nil {
			log.Printf("order: persistence publish failed for %s: %v", o.OrderID, err)
		}
	}

	log.Printf("order: queued %s flow=provider entry_price=%s margin_usd=%s", o.OrderID, o.EntryPrice, o.MarginUSD)

	payload := &ProviderPayload{
		OrderID: o.OrderID, UserType: o.UserType, UserID: o.UserID,
		Symbol: o.Symbol, Side: string(o.Side), Qty: o.Quantity,
		Price: req.RequestedPrice, IdemKey: req.IdemKey, Timestamp: now,
	}

	return ExecuteResult{
		Response: Response{
			OK:          true,
			OrderID:     o.OrderID,
			OrderStatus: string(o.Status),
			Flow:        FlowProvider,
			ExecPrice:   o.EntryPrice.String(),
			MarginUSD:   o.MarginUSD.String(),
		},
		Provider: payload,
	}, nil
}

// writeOpenOrder writes the Order, its UserHoldings mirror, the user's
// per-symbol and all-orders indexes, and the SymbolHolders membership as
// five sequential calls. They are not pipelined and not atomic (the
// SymbolHolders key is tagged on the symbol, not the user): a failure
// part-way returns the error and leaves the earlier writes in place.
func (e *Executor) writeOpenOrder(ctx context.Context, o Order) error {
	if err := e.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return err
	}
	if err := e.state.HSet(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return err
	}
	if err := e.state.SAdd(ctx, statestore.UserSymbolOrdersKey(o.UserType, o.UserID, o.Symbol), o.OrderID); err != nil {
		return err
	}
	if err := e.state.SAdd(ctx, statestore.UserOrdersKey(o.UserType, o.UserID), o.OrderID); err != nil {
		return err
	}
	return e.state.SAdd(ctx, statestore.SymbolHoldersKey(o.Symbol, o.UserType), o.UserType+":"+o.UserID)
}

// writeOrderOwner populates the order_id → owner reverse lookup C7/C8 use
// to address this order's hash-tagged keys from a queue message that only
// carries order_id.
func (e *Executor) writeOrderOwner(ctx context.Context, o Order) error {
	return e.state.Set(ctx, statestore.OrderOwnerKey(o.OrderID), o.UserType+":"+o.UserID, 0)
}

// loadTotalUsedMargin reads C9's running used-margin snapshot for a user.
// UserHoldings keys are per-order, so deriving a fresh total on every order
// would mean an unindexed scan; the portfolio engine (internal/portfolio)
// keeps this snapshot current on every admission, close and flush tick.
func (e *Executor) loadTotalUsedMargin(ctx context.Context, userType, userID string) (money.D, error) {
	total, err := e.state.Get(ctx, statestore.UsedMarginKey(userType, userID))
	if err != nil {
		if statestore.IsNotFound(err) {
			return money.Zero, nil
		}
		return money.Zero, err
	}
	return money.Parse(total)
}

// bumpUsedMargin overwrites the used-margin snapshot. It is a plain write,
// not a delta apply, so the caller always passes the full new total — C9
// owns authoritative recomputation on its flush tick and on every close.
func (e *Executor) bumpUsedMargin(ctx context.Context, userType, userID string, newTotal money.D) error {
	return e.state.Set(ctx, statestore.UsedMarginKey(userType, userID), money.RoundCurrency(newTotal).String(), 0)
}
