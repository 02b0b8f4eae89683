package escrow

import (
	"context"
	"fmt"
)

// SwapEngine is the public-facing operation surface: it validates inputs,
// derives LockIds, and mediates between LockStore, StashBook and
// TokenLedger inside a single logical transaction per call, emitting one
// event (two for moveStash) on success and leaving every store untouched
// on failure.
//
// Concurrency within a single process is handled by two keyed-mutex rings
// — one per LockId, one per (token, asset, owner) Stash key — acquired in
// that order (LockId before Stash), a fixed acquisition order that rules
// out engine-induced deadlock between operations touching both a lock
// and a stash.
type SwapEngine struct {
	locks     *LockStore
	stashes   *StashBook
	ledger    TokenLedger
	directory AccountDirectory
	hasher    Hasher
	clock     Clock
	sink      EventSink
	custodian Principal

	lockMu  *keyedMutex[Digest]
	stashMu *keyedMutex[stashLockKey]
}

// NewSwapEngine wires the given collaborators into a SwapEngine. custodian
// is the Principal this engine's own TokenLedger holdings live under —
// passed as the `to` argument of every ingress TransferFrom call.
func NewSwapEngine(locks *LockStore, stashes *StashBook, ledger TokenLedger, directory AccountDirectory, hasher Hasher, clock Clock, sink EventSink, custodian Principal) *SwapEngine {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &SwapEngine{
		locks:     locks,
		stashes:   stashes,
		ledger:    ledger,
		directory: directory,
		hasher:    hasher,
		clock:     clock,
		sink:      sink,
		custodian: custodian,
		lockMu:    newKeyedMutex[Digest](),
		stashMu:   newKeyedMutex[stashLockKey](),
	}
}

// ingress pulls amount of token from account into the engine's custody.
// NativeToken never touches the TokenLedger: the value is assumed already
// escrowed by the surrounding call context before the operation runs.
func (e *SwapEngine) ingress(ctx context.Context, token TokenId, from Principal, amount *Amount) (bool, error) {
	if IsNative(token) {
		return true, nil
	}
	return e.ledger.TransferFrom(ctx, token, from, e.custodian, amount)
}

// egress pays amount of token out of the engine's own holding to `to`.
func (e *SwapEngine) egress(ctx context.Context, token TokenId, to Principal, amount *Amount) (bool, error) {
	if IsNative(token) {
		return true, nil
	}
	return e.ledger.Transfer(ctx, token, to, amount)
}

// LockBuy locks amount of token, pulled directly from caller, under a new
// lock naming recipient and the given hash-timelock parameters. sellAssetId
// and sellPrice are carried only as event metadata describing what caller
// wants in return; they play no role in the state machine.
func (e *SwapEngine) LockBuy(ctx context.Context, caller Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, sellAssetId AssetTag, sellPrice, amount *Amount) (Digest, error) {
	if IsZero(amount) {
		return Digest{}, ErrZeroValue
	}
	id := ComputeLockId(e.hasher, token, caller, recipient, hashedSecret, timeout)
	unlock := e.lockMu.Lock(id)
	defer unlock()

	if e.locks.Exists(id) {
		return Digest{}, &LockAlreadyExistsError{LockId: id}
	}
	ok, err := e.ingress(ctx, token, caller, amount)
	if err != nil || !ok {
		return Digest{}, tokenTransferFailed(err, token, caller, e.custodian, amount)
	}
	lock := &Lock{Token: token, Sender: caller, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Value: new(Amount).Set(amount)}
	if err := e.locks.Create(id, lock); err != nil {
		e.refundIngress(ctx, token, caller, amount)
		return Digest{}, err
	}
	e.sink.Emit(Event{Kind: EventBuyLock, Token: token, Sender: caller, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Amount: lock.Value, LockId: id, SellAssetId: sellAssetId, SellPrice: sellPrice})
	return id, nil
}

// LockSell locks amount of token under a new lock, drawing the value out
// of caller's existing Stash entry for (token, stashAssetId) rather than
// pulling fresh funds through the TokenLedger. buyLockId names the
// counterparty's lock this sell is matched against, carried as event
// metadata only.
func (e *SwapEngine) LockSell(ctx context.Context, caller Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag, amount *Amount, buyLockId Digest) (Digest, error) {
	return e.lockSell(ctx, caller, caller, token, recipient, hashedSecret, timeout, stashAssetId, amount, buyLockId)
}

// LockSellProxy is LockSell acting on behalf of account, authorised
// through the AccountDirectory.
func (e *SwapEngine) LockSellProxy(ctx context.Context, caller, account Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag, amount *Amount, buyLockId Digest) (Digest, error) {
	if err := e.authorizeProxy(account, caller); err != nil {
		return Digest{}, err
	}
	return e.lockSell(ctx, caller, account, token, recipient, hashedSecret, timeout, stashAssetId, amount, buyLockId)
}

func (e *SwapEngine) lockSell(ctx context.Context, caller, owner Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag, amount *Amount, buyLockId Digest) (Digest, error) {
	if IsZero(amount) {
		return Digest{}, ErrZeroValue
	}
	id := ComputeLockId(e.hasher, token, owner, recipient, hashedSecret, timeout)
	key := stashLockKey{token: token, asset: stashAssetId, owner: owner}
	unlockLock := e.lockMu.Lock(id)
	defer unlockLock()
	unlockStash := e.stashMu.Lock(key)
	defer unlockStash()

	if e.locks.Exists(id) {
		return Digest{}, &LockAlreadyExistsError{LockId: id}
	}
	if _, err := e.stashes.Withdraw(token, stashAssetId, owner, amount); err != nil {
		return Digest{}, err
	}
	lock := &Lock{Token: token, Sender: owner, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Value: new(Amount).Set(amount), FromStash: true, AssetId: stashAssetId}
	if err := e.locks.Create(id, lock); err != nil {
		if _, derr := e.stashes.Deposit(token, stashAssetId, owner, amount); derr != nil {
			panic(fmt.Sprintf("escrow: failed to restore stash after aborted lockSell: %v", derr))
		}
		return Digest{}, err
	}
	e.sink.Emit(Event{Kind: EventSellLock, Token: token, Sender: owner, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Amount: lock.Value, LockId: id, BuyAssetId: stashAssetId, BuyLockId: buyLockId})
	return id, nil
}

// LockSellDirect is the direct-funds counterpart of LockSell: caller pays
// amount straight into the lock (through the TokenLedger for a real token,
// or out-of-band for NativeToken) instead of drawing down a Stash.
func (e *SwapEngine) LockSellDirect(ctx context.Context, caller Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, amount *Amount, buyAssetId AssetTag, buyLockId Digest) (Digest, error) {
	if IsZero(amount) {
		return Digest{}, ErrZeroValue
	}
	id := ComputeLockId(e.hasher, token, caller, recipient, hashedSecret, timeout)
	unlock := e.lockMu.Lock(id)
	defer unlock()

	if e.locks.Exists(id) {
		return Digest{}, &LockAlreadyExistsError{LockId: id}
	}
	ok, err := e.ingress(ctx, token, caller, amount)
	if err != nil || !ok {
		return Digest{}, tokenTransferFailed(err, token, caller, e.custodian, amount)
	}
	lock := &Lock{Token: token, Sender: caller, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Value: new(Amount).Set(amount)}
	if err := e.locks.Create(id, lock); err != nil {
		e.refundIngress(ctx, token, caller, amount)
		return Digest{}, err
	}
	e.sink.Emit(Event{Kind: EventSellLock, Token: token, Sender: caller, Recipient: recipient, HashedSecret: hashedSecret, Timeout: timeout, Amount: lock.Value, LockId: id, BuyAssetId: buyAssetId, BuyLockId: buyLockId})
	return id, nil
}

// DeclineByRecipient cancels a lock before any preimage is revealed. caller
// must be the lock's recipient; value returns to sender. No timeout check
// applies — this channel is available at any time.
func (e *SwapEngine) DeclineByRecipient(ctx context.Context, caller Principal, token TokenId, sender Principal, hashedSecret Digest, timeout Timestamp) (Digest, error) {
	id := ComputeLockId(e.hasher, token, sender, caller, hashedSecret, timeout)
	unlock := e.lockMu.Lock(id)
	lock, err := e.locks.Claim(id)
	unlock()
	if err != nil {
		return Digest{}, err
	}

	ok, err := e.egress(ctx, token, lock.Sender, lock.Value)
	if err != nil || !ok {
		relock := e.lockMu.Lock(id)
		e.locks.restore(id, lock)
		relock()
		return Digest{}, tokenTransferFailed(err, token, e.custodian, lock.Sender, lock.Value)
	}
	e.sink.Emit(Event{Kind: EventDeclineByRecipient, Token: token, Sender: sender, Recipient: caller, LockId: id})
	return id, nil
}

// UnlockBySender reveals secret to settle a lock before its timeout.
// caller must be the lock's sender; value routes to recipient regardless
// of who claims it.
func (e *SwapEngine) UnlockBySender(ctx context.Context, caller Principal, token TokenId, recipient Principal, secret []byte, timeout Timestamp) (Digest, error) {
	hashedSecret := e.hasher.Hash(secret)
	id := ComputeLockId(e.hasher, token, caller, recipient, hashedSecret, timeout)
	return e.unlock(ctx, id, token, caller, recipient, secret, hashedSecret, timeout, EventUnlockBySender)
}

// UnlockByRecipient reveals secret to settle a lock before its timeout.
// caller must be the lock's recipient; value routes to caller.
func (e *SwapEngine) UnlockByRecipient(ctx context.Context, caller Principal, token TokenId, sender Principal, secret []byte, timeout Timestamp) (Digest, error) {
	hashedSecret := e.hasher.Hash(secret)
	id := ComputeLockId(e.hasher, token, sender, caller, hashedSecret, timeout)
	return e.unlock(ctx, id, token, sender, caller, secret, hashedSecret, timeout, EventUnlockByRecipient)
}

// UnlockByRecipientProxy is UnlockByRecipient acting on behalf of account.
func (e *SwapEngine) UnlockByRecipientProxy(ctx context.Context, caller, account Principal, token TokenId, sender Principal, secret []byte, timeout Timestamp) (Digest, error) {
	if err := e.authorizeProxy(account, caller); err != nil {
		return Digest{}, err
	}
	hashedSecret := e.hasher.Hash(secret)
	id := ComputeLockId(e.hasher, token, sender, account, hashedSecret, timeout)
	return e.unlock(ctx, id, token, sender, account, secret, hashedSecret, timeout, EventUnlockByRecipient)
}

// unlock is the shared claim-and-pay path for both unlock directions: the
// recipient always receives the value, regardless of which side (sender or
// recipient) happened to call in.
//
// The per-LockId lock is released before egress runs, not held across it.
// egress calls out to the TokenLedger, which for an in-process ledger can
// reenter the engine on the same goroutine (e.g. a ledger that synchronously
// triggers a dependent unlock of its own); lockMu is not reentrant, so
// holding it across that call would deadlock such a ledger against itself.
// Releasing it first means a reentrant call instead finds the lock already
// claimed and fails with LockNotFound, which is the outcome a synchronous
// reentrant ledger is expected to observe.
func (e *SwapEngine) unlock(ctx context.Context, id Digest, token TokenId, sender, recipient Principal, secret []byte, hashedSecret Digest, timeout Timestamp, kind EventKind) (Digest, error) {
	unlock := e.lockMu.Lock(id)
	lock, err := e.locks.Peek(id)
	if err != nil {
		unlock()
		return Digest{}, err
	}
	if e.clock.Now() >= lock.Timeout {
		unlock()
		return Digest{}, &LockTimedOutError{LockId: id}
	}
	if _, err := e.locks.Claim(id); err != nil {
		unlock()
		return Digest{}, err
	}
	unlock()

	ok, err := e.egress(ctx, lock.Token, lock.Recipient, lock.Value)
	if err != nil || !ok {
		relock := e.lockMu.Lock(id)
		e.locks.restore(id, lock)
		relock()
		return Digest{}, tokenTransferFailed(err, lock.Token, e.custodian, lock.Recipient, lock.Value)
	}
	e.sink.Emit(Event{Kind: kind, Token: token, Sender: sender, Recipient: recipient, LockId: id, Secret: secret, Amount: lock.Value, HashedSecret: hashedSecret, Timeout: timeout})
	return id, nil
}

// TimeoutValue reclaims an expired lock's value back to its sender. caller
// must be the lock's sender.
func (e *SwapEngine) TimeoutValue(ctx context.Context, caller Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp) (Digest, error) {
	return e.timeoutValue(ctx, caller, caller, token, recipient, hashedSecret, timeout)
}

// TimeoutValueProxy is TimeoutValue acting on behalf of account.
func (e *SwapEngine) TimeoutValueProxy(ctx context.Context, caller, account Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp) (Digest, error) {
	if err := e.authorizeProxy(account, caller); err != nil {
		return Digest{}, err
	}
	return e.timeoutValue(ctx, caller, account, token, recipient, hashedSecret, timeout)
}

func (e *SwapEngine) timeoutValue(ctx context.Context, caller, sender Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp) (Digest, error) {
	id := ComputeLockId(e.hasher, token, sender, recipient, hashedSecret, timeout)
	unlock := e.lockMu.Lock(id)
	lock, err := e.locks.Peek(id)
	if err != nil {
		unlock()
		return Digest{}, err
	}
	if e.clock.Now() < lock.Timeout {
		unlock()
		return Digest{}, &LockNotTimedOutError{LockId: id}
	}
	if _, err := e.locks.Claim(id); err != nil {
		unlock()
		return Digest{}, err
	}
	unlock()

	ok, err := e.egress(ctx, lock.Token, lock.Sender, lock.Value)
	if err != nil || !ok {
		relock := e.lockMu.Lock(id)
		e.locks.restore(id, lock)
		relock()
		return Digest{}, tokenTransferFailed(err, lock.Token, e.custodian, lock.Sender, lock.Value)
	}
	e.sink.Emit(Event{Kind: EventTimeout, Token: token, Sender: sender, Recipient: recipient, LockId: id})
	return id, nil
}

// TimeoutStash reclaims an expired lock's value into a Stash entry rather
// than paying it straight out, so it can be re-advertised as liquidity
// without a withdraw/deposit round trip through the TokenLedger. An absent
// lock is rejected with ZeroValue rather than LockNotFound, matching the
// zero-amount-means-absent convention used throughout the stash paths.
func (e *SwapEngine) TimeoutStash(ctx context.Context, caller Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag) (Digest, error) {
	return e.timeoutStash(ctx, caller, caller, token, recipient, hashedSecret, timeout, stashAssetId)
}

// TimeoutStashProxy is TimeoutStash acting on behalf of account.
func (e *SwapEngine) TimeoutStashProxy(ctx context.Context, caller, account Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag) (Digest, error) {
	if err := e.authorizeProxy(account, caller); err != nil {
		return Digest{}, err
	}
	return e.timeoutStash(ctx, caller, account, token, recipient, hashedSecret, timeout, stashAssetId)
}

func (e *SwapEngine) timeoutStash(ctx context.Context, caller, sender Principal, token TokenId, recipient Principal, hashedSecret Digest, timeout Timestamp, stashAssetId AssetTag) (Digest, error) {
	id := ComputeLockId(e.hasher, token, sender, recipient, hashedSecret, timeout)
	key := stashLockKey{token: token, asset: stashAssetId, owner: sender}
	unlockLock := e.lockMu.Lock(id)
	defer unlockLock()
	unlockStash := e.stashMu.Lock(key)
	defer unlockStash()

	lock, err := e.locks.Peek(id)
	if err != nil {
		return Digest{}, ErrZeroValue
	}
	if e.clock.Now() < lock.Timeout {
		return Digest{}, &LockNotTimedOutError{LockId: id}
	}
	if _, err := e.locks.Claim(id); err != nil {
		return Digest{}, ErrZeroValue
	}
	if _, err := e.stashes.Deposit(token, stashAssetId, sender, lock.Value); err != nil {
		e.locks.restore(id, lock)
		return Digest{}, err
	}
	e.sink.Emit(Event{Kind: EventTimeout, Token: token, Sender: sender, Recipient: recipient, LockId: id, Account: sender, AssetId: stashAssetId, Amount: lock.Value})
	return id, nil
}

// DepositStash adds amount of caller's own (token, assetId) Stash entry,
// pulling the funds through the TokenLedger first (or trusting the
// surrounding call context for NativeToken).
func (e *SwapEngine) DepositStash(ctx context.Context, caller Principal, token TokenId, assetId AssetTag, amount *Amount) error {
	if IsZero(amount) {
		return ErrZeroValue
	}
	key := stashLockKey{token: token, asset: assetId, owner: caller}
	unlock := e.stashMu.Lock(key)
	defer unlock()

	ok, err := e.ingress(ctx, token, caller, amount)
	if err != nil || !ok {
		return tokenTransferFailed(err, token, caller, e.custodian, amount)
	}
	if _, err := e.stashes.Deposit(token, assetId, caller, amount); err != nil {
		e.refundIngress(ctx, token, caller, amount)
		return err
	}
	e.sink.Emit(Event{Kind: EventStashAdd, Token: token, Account: caller, AssetId: assetId, Amount: amount})
	return nil
}

// WithdrawStash removes amount (or, if amount is nil, the entire current
// balance) from caller's (token, assetId) Stash entry and pays it out.
func (e *SwapEngine) WithdrawStash(ctx context.Context, caller Principal, token TokenId, assetId AssetTag, amount *Amount) error {
	key := stashLockKey{token: token, asset: assetId, owner: caller}
	unlock := e.stashMu.Lock(key)
	defer unlock()

	if amount == nil {
		amount = e.stashes.ValueOf(token, assetId, caller)
	}
	if IsZero(amount) {
		return ErrZeroValue
	}
	if _, err := e.stashes.Withdraw(token, assetId, caller, amount); err != nil {
		return err
	}
	ok, err := e.egress(ctx, token, caller, amount)
	if err != nil || !ok {
		if _, derr := e.stashes.Deposit(token, assetId, caller, amount); derr != nil {
			panic(fmt.Sprintf("escrow: failed to restore stash after aborted withdrawStash: %v", derr))
		}
		return tokenTransferFailed(err, token, e.custodian, caller, amount)
	}
	e.sink.Emit(Event{Kind: EventStashRemove, Token: token, Account: caller, AssetId: assetId, Amount: amount})
	return nil
}

// MoveStash re-pegs amount of caller's stash from one AssetTag to another
// within the same token, with no TokenLedger involvement: it is a pure
// StashBook rebalance.
func (e *SwapEngine) MoveStash(ctx context.Context, caller Principal, token TokenId, from, to AssetTag, amount *Amount) error {
	if IsZero(amount) {
		return ErrZeroValue
	}
	if err := e.stashes.Move(token, from, to, caller, amount); err != nil {
		return err
	}
	e.sink.Emit(Event{Kind: EventStashRemove, Token: token, Account: caller, AssetId: from, Amount: amount})
	e.sink.Emit(Event{Kind: EventStashAdd, Token: token, Account: caller, AssetId: to, Amount: amount})
	return nil
}

func (e *SwapEngine) authorizeProxy(account, caller Principal) error {
	if e.directory.ProxyOf(account) != caller {
		return &InvalidProxyError{Account: account, Caller: caller}
	}
	return nil
}

// refundIngress undoes a successful ingress call after a later step in the
// same operation failed. It is only ever invoked on NATIVE-skipping or
// already-succeeded TokenLedger paths, so its own failure (the ledger
// faulting on the way back) is an unrecoverable inconsistency worth a
// loud panic rather than a silently swallowed error.
func (e *SwapEngine) refundIngress(ctx context.Context, token TokenId, to Principal, amount *Amount) {
	ok, err := e.egress(ctx, token, to, amount)
	if err != nil || !ok {
		panic(fmt.Sprintf("escrow: failed to refund ingress for %x to %x after aborted lock creation: %v", token, to, err))
	}
}

func tokenTransferFailed(cause error, token TokenId, from, to Principal, amount *Amount) error {
	err := &TokenTransferFailedError{Token: token, From: from, To: to, Amount: new(Amount).Set(amount)}
	if cause != nil {
		return fmt.Errorf("%w: %v", err, cause)
	}
	return err
}
