package ledger

import (
	"context"
	"sync"

	"github.com/acuity-social/swaplock/internal/escrow"
)

// MemoryLedger is an in-process TokenLedger: a set of per-token balances
// with no external chain. It never faults on a call for a well-formed
// request — only on insufficient balance — so it is suited to unit tests
// and to daemons configured without a live chain endpoint (pure
// stash-to-stash / native-only deployments).
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[escrow.TokenId]map[escrow.Principal]*escrow.Amount
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[escrow.TokenId]map[escrow.Principal]*escrow.Amount)}
}

// Credit gives account an initial balance of token, for test setup and for
// seeding a daemon's own view of externally-deposited balances.
func (l *MemoryLedger) Credit(token escrow.TokenId, account escrow.Principal, amount *escrow.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

func (l *MemoryLedger) credit(token escrow.TokenId, account escrow.Principal, amount *escrow.Amount) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[escrow.Principal]*escrow.Amount)
	}
	bal := l.balances[token][account]
	if bal == nil {
		bal = escrow.ZeroAmount()
	}
	l.balances[token][account] = new(escrow.Amount).Add(bal, amount)
}

// BalanceOf returns account's recorded balance of token.
func (l *MemoryLedger) BalanceOf(token escrow.TokenId, account escrow.Principal) *escrow.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[token][account]
	if bal == nil {
		return escrow.ZeroAmount()
	}
	return new(escrow.Amount).Set(bal)
}

// TransferFrom implements escrow.TokenLedger.
func (l *MemoryLedger) TransferFrom(ctx context.Context, token escrow.TokenId, from, to escrow.Principal, amount *escrow.Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[token][from]
	if bal == nil || bal.Lt(amount) {
		return false, nil
	}
	l.balances[token][from] = new(escrow.Amount).Sub(bal, amount)
	l.credit(token, to, amount)
	return true, nil
}

// Transfer implements escrow.TokenLedger.
func (l *MemoryLedger) Transfer(ctx context.Context, token escrow.TokenId, to escrow.Principal, amount *escrow.Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, to, amount)
	return true, nil
}
