// Package ledger keeps per-user asset balances with a two-bucket model:
// available funds and funds locked against resting orders. All mutation goes
// through Deposit, Reserve, ReleaseToAvailable and SettleTransfer so both
// buckets stay non-negative and value is conserved across the ledger.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/orbitex/exchange-core/internal/model"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInsufficientFunds  = errors.New("insufficient available funds")
	ErrInsufficientLocked = errors.New("insufficient locked funds")
	ErrNegativeAmount     = errors.New("amount must not be negative")
)

// Amount is one asset balance split into its two buckets.
type Amount struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns available plus locked.
func (a Amount) Total() decimal.Decimal {
	return a.Available.Add(a.Locked)
}

type account struct {
	mu       sync.Mutex
	balances map[model.Asset]*Amount
}

// amount returns the balance entry for asset, creating a zero entry on first
// touch. Callers hold acc.mu.
func (acc *account) amount(asset model.Asset) *Amount {
	amt, ok := acc.balances[asset]
	if !ok {
		amt = &Amount{Available: decimal.Zero, Locked: decimal.Zero}
		acc.balances[asset] = amt
	}
	return amt
}

// Ledger is the authoritative balance store. Locking is internal: a read
// lock on the user map plus one per-account mutex per operation. Transfers
// touch the two accounts one at a time, so account locks never nest.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

// CreateUser registers a user with empty balances. Users must be created
// explicitly; every other operation fails on an unknown user rather than
// inserting one.
func (l *Ledger) CreateUser(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[userID]; ok {
		return fmt.Errorf("create user %s: %w", userID, ErrUserExists)
	}
	l.accounts[userID] = &account{balances: make(map[model.Asset]*Amount)}
	return nil
}

// HasUser reports whether the user exists.
func (l *Ledger) HasUser(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[userID]
	return ok
}

func (l *Ledger) account(userID string) (*account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
	}
	return acc, nil
}

// Deposit credits amount to the user's available bucket.
func (l *Ledger) Deposit(userID string, asset model.Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("deposit %s %s: %w", amount, asset, ErrNegativeAmount)
	}
	acc, err := l.account(userID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	amt := acc.amount(asset)
	amt.Available = amt.Available.Add(amount)
	return nil
}

// Reserve moves amount from available to locked, failing without mutation
// when available is short.
func (l *Ledger) Reserve(userID string, asset model.Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve %s %s: %w", amount, asset, ErrNegativeAmount)
	}
	acc, err := l.account(userID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	amt := acc.amount(asset)
	if amt.Available.LessThan(amount) {
		return fmt.Errorf("reserve %s %s for %s (available %s): %w",
			amount, asset, userID, amt.Available, ErrInsufficientFunds)
	}
	amt.Available = amt.Available.Sub(amount)
	amt.Locked = amt.Locked.Add(amount)
	return nil
}

// ReleaseToAvailable moves amount back from locked to available, failing
// without mutation when locked is short.
func (l *Ledger) ReleaseToAvailable(userID string, asset model.Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("release %s %s: %w", amount, asset, ErrNegativeAmount)
	}
	acc, err := l.account(userID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	amt := acc.amount(asset)
	if amt.Locked.LessThan(amount) {
		return fmt.Errorf("release %s %s for %s (locked %s): %w",
			amount, asset, userID, amt.Locked, ErrInsufficientLocked)
	}
	amt.Locked = amt.Locked.Sub(amount)
	amt.Available = amt.Available.Add(amount)
	return nil
}

// SettleTransfer debits amount from the payer's locked bucket and credits it
// to the payee's available bucket. Both accounts are resolved before any
// mutation so a missing payee cannot strand debited funds.
func (l *Ledger) SettleTransfer(fromID, toID string, asset model.Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("settle %s %s: %w", amount, asset, ErrNegativeAmount)
	}
	from, err := l.account(fromID)
	if err != nil {
		return err
	}
	to, err := l.account(toID)
	if err != nil {
		return err
	}

	from.mu.Lock()
	fromAmt := from.amount(asset)
	if fromAmt.Locked.LessThan(amount) {
		from.mu.Unlock()
		return fmt.Errorf("settle %s %s from %s (locked %s): %w",
			amount, asset, fromID, fromAmt.Locked, ErrInsufficientLocked)
	}
	fromAmt.Locked = fromAmt.Locked.Sub(amount)
	from.mu.Unlock()

	to.mu.Lock()
	toAmt := to.amount(asset)
	toAmt.Available = toAmt.Available.Add(amount)
	to.mu.Unlock()
	return nil
}

// Balance returns the user's balance for one asset. Assets never touched
// report as zero rather than missing.
func (l *Ledger) Balance(userID string, asset model.Asset) (Amount, error) {
	acc, err := l.account(userID)
	if err != nil {
		return Amount{}, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if amt, ok := acc.balances[asset]; ok {
		return *amt, nil
	}
	return Amount{Available: decimal.Zero, Locked: decimal.Zero}, nil
}

// Balances returns a snapshot of every asset the user has touched.
func (l *Ledger) Balances(userID string) (map[model.Asset]Amount, error) {
	acc, err := l.account(userID)
	if err != nil {
		return nil, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make(map[model.Asset]Amount, len(acc.balances))
	for asset, amt := range acc.balances {
		out[asset] = *amt
	}
	return out, nil
}
