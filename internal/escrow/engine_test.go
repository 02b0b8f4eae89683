package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type mockLedger struct {
	mu       sync.Mutex
	balances map[TokenId]map[Principal]*Amount
	fail     bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[TokenId]map[Principal]*Amount)}
}

func (l *mockLedger) credit(token TokenId, p Principal, amount *Amount) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[Principal]*Amount)
	}
	bal := l.balances[token][p]
	if bal == nil {
		bal = ZeroAmount()
	}
	bal = new(Amount).Add(bal, amount)
	l.balances[token][p] = bal
}

func (l *mockLedger) balanceOf(token TokenId, p Principal) *Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal := l.balances[token][p]; bal != nil {
		return new(Amount).Set(bal)
	}
	return ZeroAmount()
}

func (l *mockLedger) TransferFrom(ctx context.Context, token TokenId, from, to Principal, amount *Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return false, nil
	}
	bal := l.balances[token][from]
	if bal == nil || bal.Lt(amount) {
		return false, nil
	}
	l.balances[token][from] = new(Amount).Sub(bal, amount)
	l.credit(token, to, amount)
	return true, nil
}

func (l *mockLedger) Transfer(ctx context.Context, token TokenId, to Principal, amount *Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return false, nil
	}
	l.credit(token, to, amount)
	return true, nil
}

type capturingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *capturingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *capturingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func newTestEngine(clock Clock, ledger TokenLedger, dir AccountDirectory, sink EventSink) *SwapEngine {
	if dir == nil {
		dir = StaticDirectory{}
	}
	return NewSwapEngine(NewLockStore(), NewStashBook(), ledger, dir, Keccak256Hasher{}, clock, sink, principal(0xEE))
}

func TestLockBuyZeroAmount(t *testing.T) {
	e := newTestEngine(FixedClock(0), newMockLedger(), nil, nil)
	_, err := e.LockBuy(context.Background(), principal(1), NativeToken, principal(2), Digest{1}, 1000, AssetTag{}, ZeroAmount(), ZeroAmount())
	if !errors.Is(err, ErrZeroValue) {
		t.Fatalf("LockBuy(amount=0) error = %v, want ErrZeroValue", err)
	}
}

func TestLockUniqueness(t *testing.T) {
	e := newTestEngine(FixedClock(0), newMockLedger(), nil, nil)
	ctx := context.Background()
	sender, recipient := principal(1), principal(2)
	hs := Digest{1, 2, 3}

	id1, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(100))
	if err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}
	id2, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1001, AssetTag{}, NewAmount(1), NewAmount(100))
	if err != nil {
		t.Fatalf("LockBuy() with distinct timeout: unexpected error: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("distinct timeouts produced the same LockId")
	}

	if _, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(100)); !errors.Is(err, ErrLockAlreadyExists) {
		t.Fatalf("LockBuy() resubmission error = %v, want ErrLockAlreadyExists", err)
	}
}

func TestUnlockTimeoutGating(t *testing.T) {
	ctx := context.Background()
	sender, recipient := principal(1), principal(2)
	secret := []byte("s3cr3t-preimage-of-thirty-two-b")
	hasher := Keccak256Hasher{}
	hs := hasher.Hash(secret)

	clock := FixedClock(999)
	e := newTestEngine(clock, newMockLedger(), nil, nil)
	if _, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(50)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}

	if _, err := e.UnlockByRecipient(ctx, recipient, NativeToken, sender, secret, 1000); err != nil {
		t.Fatalf("UnlockByRecipient() before timeout: unexpected error: %v", err)
	}
}

func TestUnlockFailsAtOrAfterTimeout(t *testing.T) {
	ctx := context.Background()
	sender, recipient := principal(1), principal(2)
	secret := []byte("s3cr3t-preimage-of-thirty-two-b")
	hasher := Keccak256Hasher{}
	hs := hasher.Hash(secret)

	clock := FixedClock(1000)
	e := newTestEngine(clock, newMockLedger(), nil, nil)
	if _, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(50)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}
	_, err := e.UnlockByRecipient(ctx, recipient, NativeToken, sender, secret, 1000)
	if !errors.Is(err, ErrLockTimedOut) {
		t.Fatalf("UnlockByRecipient() at now=timeout error = %v, want ErrLockTimedOut", err)
	}
}

// reentrantUnlockLedger is a TokenLedger whose Transfer calls back into the
// same engine, on the same goroutine, before returning — modelling a
// synchronous in-process ledger that observes escrow state mid-egress.
type reentrantUnlockLedger struct {
	engine     *SwapEngine
	ctx        context.Context
	sender     Principal
	recipient  Principal
	secret     []byte
	timeout    Timestamp
	reentered  bool
	reentryErr error
}

func (l *reentrantUnlockLedger) TransferFrom(ctx context.Context, token TokenId, from, to Principal, amount *Amount) (bool, error) {
	return true, nil
}

func (l *reentrantUnlockLedger) Transfer(ctx context.Context, token TokenId, to Principal, amount *Amount) (bool, error) {
	l.reentered = true
	_, l.reentryErr = l.engine.UnlockBySender(l.ctx, l.sender, token, l.recipient, l.secret, l.timeout)
	return true, nil
}

// TestUnlockReentrantLedgerObservesLockGone covers scenario S5: a
// same-goroutine reentrant call into UnlockBySender, triggered from within
// the TokenLedger's own egress call, must not deadlock against the
// non-reentrant per-LockId mutex. Because unlock releases that lock before
// calling egress, the reentrant call finds the lock already claimed and
// fails with LockNotFound rather than hanging.
func TestUnlockReentrantLedgerObservesLockGone(t *testing.T) {
	ctx := context.Background()
	sender, recipient := principal(1), principal(2)
	secret := []byte("s3cr3t-preimage-of-thirty-two-b")
	hasher := Keccak256Hasher{}
	hs := hasher.Hash(secret)

	var token TokenId
	token[0] = 0x01

	ledger := &reentrantUnlockLedger{ctx: ctx, sender: sender, recipient: recipient, secret: secret, timeout: 1000}
	e := newTestEngine(FixedClock(0), ledger, nil, nil)
	ledger.engine = e

	if _, err := e.LockBuy(ctx, sender, token, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(50)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}

	if _, err := e.UnlockBySender(ctx, sender, token, recipient, secret, 1000); err != nil {
		t.Fatalf("UnlockBySender() outer call: unexpected error: %v", err)
	}
	if !ledger.reentered {
		t.Fatalf("ledger.Transfer was never called")
	}
	if !errors.Is(ledger.reentryErr, ErrLockNotFound) {
		t.Fatalf("reentrant UnlockBySender() error = %v, want ErrLockNotFound", ledger.reentryErr)
	}
}

func TestTimeoutGating(t *testing.T) {
	ctx := context.Background()
	sender, recipient := principal(1), principal(2)
	hs := Digest{7}

	clock := FixedClock(999)
	e := newTestEngine(clock, newMockLedger(), nil, nil)
	if _, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 1000, AssetTag{}, NewAmount(1), NewAmount(70)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}
	if _, err := e.TimeoutValue(ctx, sender, NativeToken, recipient, hs, 1000); !errors.Is(err, ErrLockNotTimedOut) {
		t.Fatalf("TimeoutValue() before timeout error = %v, want ErrLockNotTimedOut", err)
	}
}

// TestDeclineByRecipient covers a recipient declining an offer before timeout.
func TestDeclineByRecipient(t *testing.T) {
	ctx := context.Background()
	sender, recipient := principal(0xAA), principal(0xBB)
	hs := Digest{0x7A}
	e := newTestEngine(FixedClock(0), newMockLedger(), nil, nil)

	if _, err := e.LockBuy(ctx, sender, NativeToken, recipient, hs, 10000, AssetTag{}, NewAmount(1), NewAmount(70)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}
	if _, err := e.DeclineByRecipient(ctx, recipient, NativeToken, sender, hs, 10000); err != nil {
		t.Fatalf("DeclineByRecipient() unexpected error: %v", err)
	}
	if e.locks.Len() != 0 {
		t.Fatalf("lock still present after decline")
	}
}

// TestTimeoutStashRoundTrip checks that a lockSell drawing from a stash,
// followed by timeoutStash back into the same stash, restores the
// original amount.
func TestTimeoutStashRoundTrip(t *testing.T) {
	ctx := context.Background()
	bob, eve := principal(1), principal(2)
	asset := tag(0xA2)
	hs := Digest{0x99}

	clock := FixedClock(100)
	e := newTestEngine(clock, newMockLedger(), nil, nil)

	if err := e.DepositStash(ctx, bob, NativeToken, asset, NewAmount(80)); err != nil {
		t.Fatalf("DepositStash() unexpected error: %v", err)
	}
	if _, err := e.LockSell(ctx, bob, NativeToken, eve, hs, 200, asset, NewAmount(30), Digest{}); err != nil {
		t.Fatalf("LockSell() unexpected error: %v", err)
	}
	if got := e.stashes.ValueOf(NativeToken, asset, bob); got.Cmp(NewAmount(50)) != 0 {
		t.Fatalf("stash after lockSell = %s, want 50", got.Dec())
	}

	clock = FixedClock(201)
	e.clock = clock
	if _, err := e.TimeoutStash(ctx, bob, NativeToken, eve, hs, 200, asset); err != nil {
		t.Fatalf("TimeoutStash() unexpected error: %v", err)
	}
	if got := e.stashes.ValueOf(NativeToken, asset, bob); got.Cmp(NewAmount(80)) != 0 {
		t.Fatalf("stash after timeoutStash = %s, want 80", got.Dec())
	}
}

func TestTimeoutStashAbsentLockIsZeroValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(FixedClock(500), newMockLedger(), nil, nil)
	_, err := e.TimeoutStash(ctx, principal(1), NativeToken, principal(2), Digest{1}, 400, tag(1))
	if !errors.Is(err, ErrZeroValue) {
		t.Fatalf("TimeoutStash() on absent lock error = %v, want ErrZeroValue", err)
	}
}

// TestProxyRejection covers a proxy call rejected for an unauthorised caller.
func TestProxyRejection(t *testing.T) {
	ctx := context.Background()
	alice, caller := principal(0xA1), principal(0xC1)
	dir := StaticDirectory{} // no proxy registered for alice
	e := newTestEngine(FixedClock(0), newMockLedger(), dir, nil)

	_, err := e.TimeoutValueProxy(ctx, caller, alice, NativeToken, principal(2), Digest{1}, 1000)
	var proxyErr *InvalidProxyError
	if !errors.As(err, &proxyErr) {
		t.Fatalf("TimeoutValueProxy() error = %v, want *InvalidProxyError", err)
	}
	if proxyErr.Account != alice || proxyErr.Caller != caller {
		t.Fatalf("InvalidProxyError = %+v, want Account=%x Caller=%x", proxyErr, alice, caller)
	}
}

func TestProxyAuthorized(t *testing.T) {
	ctx := context.Background()
	alice, caller := principal(0xA1), principal(0xC1)
	dir := StaticDirectory{alice: caller}
	e := newTestEngine(FixedClock(2000), newMockLedger(), dir, nil)

	if _, err := e.LockBuy(ctx, alice, NativeToken, principal(2), Digest{1}, 1000, AssetTag{}, NewAmount(1), NewAmount(20)); err != nil {
		t.Fatalf("LockBuy() unexpected error: %v", err)
	}
	if _, err := e.TimeoutValueProxy(ctx, caller, alice, NativeToken, principal(2), Digest{1}, 1000); err != nil {
		t.Fatalf("TimeoutValueProxy() unexpected error: %v", err)
	}
}

// TestTokenTransferFailedLeavesStateUntouched exercises the rollback path:
// an ingress failure during lockBuy must not create a Lock.
func TestTokenTransferFailedLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.fail = true
	e := newTestEngine(FixedClock(0), ledger, nil, nil)

	var token TokenId
	token[0] = 0x01
	_, err := e.LockBuy(ctx, principal(1), token, principal(2), Digest{1}, 1000, AssetTag{}, NewAmount(1), NewAmount(50))
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("LockBuy() with failing ledger error = %v, want ErrTokenTransferFailed", err)
	}
	if e.locks.Len() != 0 {
		t.Fatalf("lock created despite failed ingress")
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	owner := principal(1)
	sink := &capturingSink{}
	e := newTestEngine(FixedClock(0), newMockLedger(), nil, sink)
	asset := tag(1)

	if err := e.DepositStash(ctx, owner, NativeToken, asset, NewAmount(40)); err != nil {
		t.Fatalf("DepositStash() unexpected error: %v", err)
	}
	if err := e.WithdrawStash(ctx, owner, NativeToken, asset, NewAmount(40)); err != nil {
		t.Fatalf("WithdrawStash() unexpected error: %v", err)
	}
	if got := e.stashes.ValueOf(NativeToken, asset, owner); !got.IsZero() {
		t.Fatalf("stash after round trip = %s, want 0", got.Dec())
	}
	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != EventStashAdd || kinds[1] != EventStashRemove {
		t.Fatalf("events = %v, want [StashAdd StashRemove]", kinds)
	}
}
