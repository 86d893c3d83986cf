package token

import (
	"errors"
	"fmt"
	"sync"

	"agora/pkg/chain"
	"agora/pkg/checkpoint"
)

var (
	// ErrInsufficientBalance indicates the account holds fewer votes than
	// the operation needs
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger tracks deposited vote weight per account with full checkpoint
// history, so any past timepoint's weight and total supply stay readable.
// All writes checkpoint at the current clock timepoint; repeated writes in
// the same timepoint overwrite the timepoint's entry.
type Ledger struct {
	clock    chain.Clock
	balances map[string]*checkpoint.Store
	supply   *checkpoint.Store
	mutex    sync.RWMutex
}

// NewLedger creates an empty ledger reading timepoints from clock.
func NewLedger(clock chain.Clock) *Ledger {
	return &Ledger{
		clock:    clock,
		balances: make(map[string]*checkpoint.Store),
		supply:   checkpoint.NewStore(0),
	}
}

func (l *Ledger) account(address string) *checkpoint.Store {
	if store, exists := l.balances[address]; exists {
		return store
	}
	store := checkpoint.NewStore(0)
	l.balances[address] = store
	return store
}

// Mint credits amount of vote weight to address.
func (l *Ledger) Mint(address string, amount uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()
	store := l.account(address)
	if err := store.Push(now, store.Latest()+amount); err != nil {
		return fmt.Errorf("failed to checkpoint balance: %w", err)
	}
	if err := l.supply.Push(now, l.supply.Latest()+amount); err != nil {
		return fmt.Errorf("failed to checkpoint supply: %w", err)
	}
	return nil
}

// Burn removes amount of vote weight from address.
func (l *Ledger) Burn(address string, amount uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()
	store := l.account(address)
	balance := store.Latest()
	if balance < amount {
		return ErrInsufficientBalance
	}
	if err := store.Push(now, balance-amount); err != nil {
		return fmt.Errorf("failed to checkpoint balance: %w", err)
	}
	if err := l.supply.Push(now, l.supply.Latest()-amount); err != nil {
		return fmt.Errorf("failed to checkpoint supply: %w", err)
	}
	return nil
}

// Transfer moves amount of vote weight from one account to another. Total
// supply is unchanged.
func (l *Ledger) Transfer(from, to string, amount uint64) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()
	fromStore := l.account(from)
	balance := fromStore.Latest()
	if balance < amount {
		return ErrInsufficientBalance
	}
	toStore := l.account(to)
	if err := fromStore.Push(now, balance-amount); err != nil {
		return fmt.Errorf("failed to checkpoint balance: %w", err)
	}
	if err := toStore.Push(now, toStore.Latest()+amount); err != nil {
		return fmt.Errorf("failed to checkpoint balance: %w", err)
	}
	return nil
}

// BalanceOf returns the current vote weight of address.
func (l *Ledger) BalanceOf(address string) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if store, exists := l.balances[address]; exists {
		return store.Latest()
	}
	return 0
}

// TotalSupply returns the current total deposited vote weight.
func (l *Ledger) TotalSupply() uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.supply.Latest()
}

// PastVotes returns the vote weight of address as of timepoint.
func (l *Ledger) PastVotes(address string, timepoint uint64) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if store, exists := l.balances[address]; exists {
		return store.Lookup(timepoint)
	}
	return 0
}

// PastTotalSupply returns the total deposited vote weight as of timepoint.
func (l *Ledger) PastTotalSupply(timepoint uint64) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.supply.Lookup(timepoint)
}
