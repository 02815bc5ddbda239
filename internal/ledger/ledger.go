// Package ledger defines the value-transfer collaborator the auction engine
// settles against, and an in-memory implementation used in development and
// tests.
//
// The engine only observes whether a call succeeded. Custody, account
// creation and signature checks belong to whatever sits behind Ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot
	// cover a transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrMintFailed is returned when credits could not be issued.
	ErrMintFailed = errors.New("ledger: credit mint failed")
)

// Ledger moves the payment asset between accounts and issues credits.
type Ledger interface {
	// Transfer moves amount of the payment asset from one account to another.
	Transfer(ctx context.Context, from, to string, amount uint64) error

	// MintCredit issues amount credits to an account.
	MintCredit(ctx context.Context, to string, amount uint64) error
}

const escrowPrefix = "escrow:"

// EscrowAccount names the holding that keeps bid payments for one auction.
func EscrowAccount(batchID uint32) string {
	return fmt.Sprintf(escrowPrefix+"auction:%d", batchID)
}

// IsEscrowAccount reports whether account lies in the namespace reserved
// for engine-held escrows. Such accounts can never act as bidders.
func IsEscrowAccount(account string) bool {
	return strings.HasPrefix(account, escrowPrefix)
}

// MemoryLedger implements Ledger with in-memory balances. Accounts spring
// into existence on first credit.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
	credits  map[string]uint64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]uint64),
		credits:  make(map[string]uint64),
	}
}

// Deposit credits account with amount of the payment asset.
func (l *MemoryLedger) Deposit(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum, carry := bits.Add64(l.balances[account], amount, 0)
	if carry != 0 {
		return fmt.Errorf("ledger: deposit to %s overflows", account)
	}
	l.balances[account] = sum
	return nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, l.balances[from], amount)
	}
	sum, carry := bits.Add64(l.balances[to], amount, 0)
	if carry != 0 {
		return fmt.Errorf("ledger: transfer to %s overflows", to)
	}
	l.balances[from] -= amount
	l.balances[to] = sum
	return nil
}

func (l *MemoryLedger) MintCredit(ctx context.Context, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sum, carry := bits.Add64(l.credits[to], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: credit balance of %s overflows", ErrMintFailed, to)
	}
	l.credits[to] = sum
	return nil
}

// Balance returns the payment-asset balance of account.
func (l *MemoryLedger) Balance(account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Credits returns the credit balance of account.
func (l *MemoryLedger) Credits(account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[account]
}
