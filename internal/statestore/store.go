// Package statestore is the C1 State Store: a thin, breaker-wrapped
// accessor over the hash-tagged key-value cluster that every other
// component coordinates through (spec.md §3, §4.1).
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a redis.Cmdable (satisfied by both *redis.Client and
// *redis.ClusterClient, so the same code runs against a single node in
// dev and a real cluster in production) with a circuit breaker.
type Store struct {
	rdb     redis.Cmdable
	breaker *Breaker
}

// New builds a Store. Pass a *redis.ClusterClient in production or a
// *redis.Client against a single node; the package ships no fake client.
func New(rdb redis.Cmdable, breakerCfg BreakerConfig) *Store {
	return &Store{rdb: rdb, breaker: NewBreaker(breakerCfg)}
}

// BreakerState reports the current breaker state (CLOSED/OPEN/HALF_OPEN).
func (s *Store) BreakerState() string { return s.breaker.State() }

// --- key builders — hash-tag discipline is part of the public contract (spec.md §6) ---

func UserConfigKey(userType, userID string) string {
	return fmt.Sprintf("user:{%s:%s}:config", userType, userID)
}

func GroupConfigKey(group, symbol string) string {
	return fmt.Sprintf("groups:{%s}:%s", group, symbol)
}

func OrderKey(userType, userID, orderID string) string {
	return fmt.Sprintf("order_data:{%s:%s}:%s", userType, userID, orderID)
}

// OrderOwnerKey maps an opaque order_id back to its owning "user_type:
// user_id" pair. Order IDs carry no embedded owner (spec.md §6's bit
// layout is pure timestamp/worker/sequence), but every lifecycle queue
// message after C5 only carries order_id — so C7's workers and C8's
// trigger engine need this reverse lookup to address the hash-tagged
// Order/UserHoldings keys. Written once by C5 at order creation,
// untouched afterward (an order's owner never changes).
func OrderOwnerKey(orderID string) string {
	return fmt.Sprintf("order_owner:%s", orderID)
}

func UserHoldingsKey(userType, userID, orderID string) string {
	return fmt.Sprintf("user_holdings:{%s:%s}:%s", userType, userID, orderID)
}

func SymbolHoldersKey(symbol, userType string) string {
	return fmt.Sprintf("symbol_holders:{%s}:%s", symbol, userType)
}

// UserSymbolOrdersKey tracks the live (non-terminal) order IDs a user
// holds on one symbol — not part of spec.md §3's named key list, but
// needed to maintain its own SymbolHolders invariant ("a uid is a member
// iff it has at least one non-terminal order on that symbol") without a
// cluster-wide scan on every close. Tagged on the user, like UserHoldings.
func UserSymbolOrdersKey(userType, userID, symbol string) string {
	return fmt.Sprintf("user_symbol_orders:{%s:%s}:%s", userType, userID, symbol)
}

// UserOrdersKey tracks every non-terminal order id (QUEUED, OPEN, PENDING)
// belonging to a user, across all symbols — the indexed enumeration C9's
// portfolio recalculator needs to recompute a fresh total margin on a
// dirty-user flush without a cluster-wide scan over UserHoldings. Spans a
// wider set of statuses than UserHoldings deliberately: a QUEUED order's
// provisional margin reservation must stay visible to C9's recompute, or a
// flush landing mid-provider-round-trip would transiently erase it.
func UserOrdersKey(userType, userID string) string {
	return fmt.Sprintf("user_orders:{%s:%s}", userType, userID)
}

func SLIndexKey(symbol, side string) string {
	return fmt.Sprintf("sl_index:{%s}:%s", symbol, side)
}

func TPIndexKey(symbol, side string) string {
	return fmt.Sprintf("tp_index:{%s}:%s", symbol, side)
}

func PendingIndexKey(symbol, side string) string {
	return fmt.Sprintf("pending_index:{%s}:%s", symbol, side)
}

func OrderTriggersKey(orderID string) string {
	return fmt.Sprintf("order_triggers:{%s}", orderID)
}

func CloseContextKey(orderID string) string {
	return fmt.Sprintf("close_context:{%s}", orderID)
}

func IdempotencyKey(userType, userID, key string) string {
	return fmt.Sprintf("idempotency:{%s:%s}:%s", userType, userID, key)
}

func MarketTickKey(symbol string) string {
	return fmt.Sprintf("market:{%s}", symbol)
}

func ProviderIdemKey(idem string) string {
	return fmt.Sprintf("provider_idem:{%s}", idem)
}

func TriggerLeaseKey(symbol string) string {
	return fmt.Sprintf("trigger_lease:{%s}", symbol)
}

// UsedMarginKey is C9's running used-margin snapshot for a user, read by
// the order executor on admission rather than re-derived from a UserHoldings
// scan on every order (spec.md §4.4, §4.9).
func UsedMarginKey(userType, userID string) string {
	return fmt.Sprintf("user_margin:{%s:%s}:used_usd", userType, userID)
}

// PortfolioSnapshotKey is where C9 persists the per-flush equity/margin
// snapshot spec.md §4.9 names but does not key ("persists a portfolio
// snapshot") — read by the autocutoff watcher and available for a status
// query to echo back without recomputing.
func PortfolioSnapshotKey(userType, userID string) string {
	return fmt.Sprintf("portfolio_snapshot:{%s:%s}", userType, userID)
}

// AutocutoffLeaseKey gates exactly one replica's liquidation attempt per
// user per flush tick, the same SetNX-lease technique C8 uses per symbol
// (trigger.acquireLease) — without it, two replicas flushing the same
// dirty user concurrently could both pick the same largest-loser order and
// enqueue duplicate forced closes.
func AutocutoffLeaseKey(userType, userID string) string {
	return fmt.Sprintf("autocutoff_lease:{%s:%s}", userType, userID)
}

// --- hash ops ---

func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.HGet(ctx, key, field).Result()
		return e
	})
	return v, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var v map[string]string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.HGetAll(ctx, key).Result()
		return e
	})
	return v, err
}

func (s *Store) HMGet(ctx context.Context, key string, fields ...string) ([]interface{}, error) {
	var v []interface{}
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.HMGet(ctx, key, fields...).Result()
		return e
	})
	return v, err
}

func (s *Store) HSet(ctx context.Context, key string, values map[string]string) error {
	return s.breaker.Do(func() error {
		fields := make([]interface{}, 0, len(values)*2)
		for k, v := range values {
			fields = append(fields, k, v)
		}
		return s.rdb.HSet(ctx, key, fields...).Err()
	})
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return s.breaker.Do(func() error {
		return s.rdb.HDel(ctx, key, fields...).Err()
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.breaker.Do(func() error {
		var e error
		n, e = s.rdb.Exists(ctx, key).Result()
		return e
	})
	return n > 0, err
}

// --- set ops ---

func (s *Store) SAdd(ctx context.Context, key string, member string) error {
	return s.breaker.Do(func() error { return s.rdb.SAdd(ctx, key, member).Err() })
}

func (s *Store) SRem(ctx context.Context, key string, member string) error {
	return s.breaker.Do(func() error { return s.rdb.SRem(ctx, key, member).Err() })
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var v []string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.SMembers(ctx, key).Result()
		return e
	})
	return v, err
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var v bool
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.SIsMember(ctx, key, member).Result()
		return e
	})
	return v, err
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.SCard(ctx, key).Result()
		return e
	})
	return v, err
}

// --- ordered set ops (trigger indexes) ---

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.breaker.Do(func() error {
		return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

func (s *Store) ZRem(ctx context.Context, key string, member string) error {
	return s.breaker.Do(func() error { return s.rdb.ZRem(ctx, key, member).Err() })
}

// ZRangeByScoreAsc returns members with score in [min, max], ascending.
func (s *Store) ZRangeByScoreAsc(ctx context.Context, key string, min, max float64) ([]string, error) {
	var v []string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: fmt.Sprintf("%v", min), Max: fmt.Sprintf("%v", max),
		}).Result()
		return e
	})
	return v, err
}

// ZRangeByScoreDesc returns members with score in [min, max], descending.
func (s *Store) ZRangeByScoreDesc(ctx context.Context, key string, min, max float64) ([]string, error) {
	var v []string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: fmt.Sprintf("%v", min), Max: fmt.Sprintf("%v", max),
		}).Result()
		return e
	})
	return v, err
}

func (s *Store) ZScore(ctx context.Context, key, member string) (float64, error) {
	var v float64
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.ZScore(ctx, key, member).Result()
		return e
	})
	return v, err
}

// --- counters ---

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.Incr(ctx, key).Result()
		return e
	})
	return v, err
}

// --- idempotency: SET NX is the only way to create a reservation ---

// SetNX reserves key->value with a TTL, returning true if this call created
// the key (i.e. this caller owns the reservation).
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.breaker.Do(func() error {
		var e error
		ok, e = s.rdb.SetNX(ctx, key, value, ttl).Result()
		return e
	})
	return ok, err
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.breaker.Do(func() error {
		var e error
		v, e = s.rdb.Get(ctx, key).Result()
		return e
	})
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.breaker.Do(func() error { return s.rdb.Set(ctx, key, value, ttl).Err() })
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.breaker.Do(func() error { return s.rdb.Del(ctx, key).Err() })
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.breaker.Do(func() error { return s.rdb.Expire(ctx, key, ttl).Err() })
}

// Pipeline exposes a pipelined multi-op builder scoped to a single
// hash-tag. Callers must only touch keys sharing one tag — cross-tag
// atomicity is explicitly not offered (spec.md §4.1).
func (s *Store) Pipeline() redis.Pipeliner {
	return s.rdb.Pipeline()
}

// ExecPipeline runs a pipeline through the breaker.
func (s *Store) ExecPipeline(ctx context.Context, pipe redis.Pipeliner) error {
	return s.breaker.Do(func() error {
		_, e := pipe.Exec(ctx)
		return e
	})
}

// IsNotFound reports whether err is the "missing key" sentinel, as opposed
// to a transport failure.
func IsNotFound(err error) bool {
	return err == redis.Nil
}

// IsCircuitOpen reports whether err originated from an open breaker.
func IsCircuitOpen(err error) bool {
	return err == ErrCircuitOpen
}
