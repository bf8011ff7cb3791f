// Package account holds UserConfig: the per-user trading profile (group,
// leverage, wallet balance, status) read on every order path (spec.md §3
// UserConfig).
package account

import (
	"context"
	"errors"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/statestore"
)

// Status values for a user's trading account.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusClosed    = "closed"
)

// ErrNotFound indicates no user config hash exists for the given user.
var ErrNotFound = errors.New("account: user config not found")

// UserConfig is the account profile consulted before every order.
type UserConfig struct {
	UserType      string  `json:"user_type"`
	UserID        string  `json:"user_id"`
	Group         string  `json:"group"`
	Leverage      money.D `json:"leverage"`
	WalletBalance money.D `json:"wallet_balance"`
	Status        string  `json:"status"`
	SendingOrders bool    `json:"sending_orders"` // whether orders route to the live provider
}

// Active reports whether the account may originate new orders.
func (u UserConfig) Active() bool { return u.Status == StatusActive }

// Store is the accessor in front of user:{user_type:user_id}:config.
type Store struct {
	state *statestore.Store
}

// NewStore builds a UserConfig store.
func NewStore(state *statestore.Store) *Store {
	return &Store{state: state}
}

// Get fetches a user's current config. Always hits the state store — user
// config changes (leverage, balance) must be read fresh on every order, so
// this is deliberately not cached the way GroupConfig is.
func (s *Store) Get(ctx context.Context, userType, userID string) (UserConfig, error) {
	fields, err := s.state.HGetAll(ctx, statestore.UserConfigKey(userType, userID))
	if err != nil {
		return UserConfig{}, fmt.Errorf("account: get %s/%s: %w", userType, userID, err)
	}
	if len(fields) == 0 {
		return UserConfig{}, ErrNotFound
	}
	cfg := UserConfig{UserType: userType, UserID: userID}
	cfg.Group = fields["group"]
	cfg.Status = fields["status"]
	cfg.SendingOrders = fields["sending_orders"] == "true" || fields["sending_orders"] == "1"
	cfg.Leverage = parseOrZero(fields["leverage"])
	cfg.WalletBalance = parseOrZero(fields["wallet_balance"])
	return cfg, nil
}

// AdjustWalletBalance applies delta to the user's wallet balance and
// returns the new value. Used by the margin/portfolio engines when a
// close/commission event settles cash.
func (s *Store) AdjustWalletBalance(ctx context.Context, userType, userID string, delta money.D) (money.D, error) {
	cfg, err := s.Get(ctx, userType, userID)
	if err != nil {
		return money.Zero, err
	}
	newBalance := money.RoundCurrency(cfg.WalletBalance.Add(delta))
	err = s.state.HSet(ctx, statestore.UserConfigKey(userType, userID), map[string]string{
		"wallet_balance": newBalance.String(),
	})
	if err != nil {
		return money.Zero, fmt.Errorf("account: adjust wallet balance %s/%s: %w", userType, userID, err)
	}
	return newBalance, nil
}

func parseOrZero(s string) money.D {
	d, err := money.Parse(s)
	if err != nil {
		return money.Zero
	}
	return d
}
