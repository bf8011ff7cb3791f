// Package instrument holds GroupConfig: the per-group, per-symbol trading
// terms (contract size, spread, commission, margin factor) that drive
// pricing and margin for every order (spec.md §3, §4.x GroupConfig).
package instrument

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"trading-core/internal/money"
	"trading-core/internal/statestore"
	"trading-core/pkg/cache"
)

// ErrNotFound indicates no GroupConfig hash exists for (group, symbol).
// HGETALL on a missing key returns an empty map rather than redis.Nil, so
// this package distinguishes "no fields" from a real hit explicitly.
var ErrNotFound = errors.New("instrument: group config not found")

// StandardGroup is the fallback group used when a user's configured group
// has no record for the traded symbol (original_source group_config.py).
const StandardGroup = "Standard"

// GroupConfig is the trading terms for one (group, symbol) pair.
type GroupConfig struct {
	Group          string  `json:"group"`
	Symbol         string  `json:"symbol"`
	InstrumentType int     `json:"type"` // 1=forex 2=metal 3=index 4=crypto (original_source margin_calculator.py)
	ContractSize   money.D `json:"contract_size"`
	ProfitCurrency string  `json:"profit"`
	Spread         money.D `json:"spread"`
	SpreadPip      money.D `json:"spread_pip"`
	// CommissionType gates which leg(s) commission applies to: 0=every
	// trade (entry+exit), 1=entry only, 2=exit only
	// (original_source commission_calculator.py).
	CommissionType int `json:"commission_type"`
	// CommissionValueType selects how CommissionValue is interpreted:
	// 0=per lot, 1=percent.
	CommissionValueType int     `json:"commission_value_type"`
	CommissionValue     money.D `json:"commission_rate"`
	CrossMarginFactor   money.D `json:"crypto_margin_factor"` // applies to crypto instruments only
}

func defaultCryptoMarginFactor() money.D { return money.MustParse("1.0") }

// cacheKey joins (group, symbol) into the flat string key pkg/cache's
// sharded map is keyed on.
func cacheKey(group, symbol string) string { return group + "\x00" + symbol }

// Store is the read-through accessor in front of the state store's
// groups:{group}:SYMBOL hash. A miss on the requested group falls back to
// StandardGroup before giving up. The read-through cache is pkg/cache's
// generic sharded cache, the same one the teacher used for price data.
type Store struct {
	state *statestore.Store
	cache *cache.ShardedCache[GroupConfig]
}

// NewStore builds a GroupConfig store with a read-through cache.
func NewStore(state *statestore.Store, ttlSeconds int) *Store {
	if ttlSeconds <= 0 {
		ttlSeconds = 30
	}
	return &Store{state: state, cache: cache.NewShardedCache[GroupConfig](time.Duration(ttlSeconds) * time.Second)}
}

// Get returns the GroupConfig for (group, symbol), falling back to the
// Standard group when the requested group has no record for symbol.
func (s *Store) Get(ctx context.Context, group, symbol string) (GroupConfig, error) {
	if cfg, ok := s.cache.Get(cacheKey(group, symbol)); ok {
		return cfg, nil
	}

	cfg, err := s.fetch(ctx, group, symbol)
	if err == nil {
		s.cache.Set(cacheKey(group, symbol), cfg)
		return cfg, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return GroupConfig{}, err
	}
	if group == StandardGroup {
		return GroupConfig{}, fmt.Errorf("instrument: no group config for %s/%s: %w", group, symbol, err)
	}

	cfg, err = s.fetch(ctx, StandardGroup, symbol)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("instrument: no group config for %s/%s, and Standard fallback missing: %w", group, symbol, err)
	}
	s.cache.Set(cacheKey(group, symbol), cfg) // cache under the originally requested key too
	return cfg, nil
}

// Invalidate drops a cached entry, used when an admin updates a group's
// terms and the change must be visible immediately.
func (s *Store) Invalidate(group, symbol string) {
	s.cache.Delete(cacheKey(group, symbol))
}

func (s *Store) fetch(ctx context.Context, group, symbol string) (GroupConfig, error) {
	fields, err := s.state.HGetAll(ctx, statestore.GroupConfigKey(group, symbol))
	if err != nil {
		return GroupConfig{}, err
	}
	if len(fields) == 0 {
		return GroupConfig{}, ErrNotFound
	}
	cfg := GroupConfig{Group: group, Symbol: symbol}
	cfg.InstrumentType = parseIntOrZero(fields["type"])
	cfg.ProfitCurrency = fields["profit"]
	cfg.CommissionType = parseIntOrZero(fields["commission_type"])
	cfg.CommissionValueType = parseIntOrZero(fields["commission_value_type"])
	cfg.ContractSize = parseOrZero(fields["contract_size"])
	cfg.Spread = parseOrZero(fields["spread"])
	cfg.SpreadPip = parseOrZero(fields["spread_pip"])
	cfg.CommissionValue = parseOrZero(fields["commission_rate"])
	if v, ok := fields["crypto_margin_factor"]; ok && v != "" {
		cfg.CrossMarginFactor = parseOrZero(v)
	} else {
		cfg.CrossMarginFactor = defaultCryptoMarginFactor()
	}
	return cfg, nil
}

func parseOrZero(s string) money.D {
	d, err := money.Parse(s)
	if err != nil {
		return money.Zero
	}
	return d
}

func parseIntOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// IsCrypto reports whether this instrument's margin should be scaled by
// CrossMarginFactor (original_source margin_calculator.py: instrument_type == 4).
func (c GroupConfig) IsCrypto() bool { return c.InstrumentType == 4 }
