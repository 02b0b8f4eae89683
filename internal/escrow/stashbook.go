package escrow

import (
	"sync"
)

// stashKey groups the liquidity lists a StashBook maintains: one descending
// chain per (token, asset) pair, with each owner contributing at most one
// entry to a chain.
type stashKey struct {
	token TokenId
	asset AssetTag
}

// stashNode is one link of the intrusive, descending-value singly-linked
// list. Each (token, asset) pair owns one chain whose first node is stored
// in StashBook.heads (there is no sentinel node);
// walking the chain from the head always yields owners ordered from largest
// stash to smallest, so the first N links of a walk are the N best offers
// without needing an auxiliary heap.
type stashNode struct {
	owner Principal
	value *Amount
	next  *stashNode
}

// Stash is a read-only snapshot of one advertised liquidity entry.
type Stash struct {
	Owner   Principal
	Token   TokenId
	AssetId AssetTag
	Value   *Amount
}

// StashBook holds advertised liquidity: for every (token, assetId) pair, the
// set of owners willing to sell against that asset, ordered so the deepest
// stash is always found first. It has no notion of operations or events —
// those live in SwapEngine, which is the only caller expected to mutate a
// StashBook directly.
type StashBook struct {
	mu    sync.RWMutex
	heads map[stashKey]*stashNode
}

// NewStashBook returns an empty StashBook.
func NewStashBook() *StashBook {
	return &StashBook{heads: make(map[stashKey]*stashNode)}
}

// ValueOf returns the stash owner holds against (token, assetId), or zero if
// they have none on record.
func (b *StashBook) ValueOf(token TokenId, assetId AssetTag, owner Principal) *Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.find(stashKey{token: token, asset: assetId}, owner)
	if n == nil {
		return ZeroAmount()
	}
	return new(Amount).Set(n.value)
}

// List returns up to limit stashes for (token, assetId), ordered descending
// by value. limit <= 0 means unbounded.
func (b *StashBook) List(token TokenId, assetId AssetTag, limit int) []Stash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := stashKey{token: token, asset: assetId}
	var out []Stash
	for n := b.heads[key]; n != nil; n = n.next {
		out = append(out, Stash{Owner: n.owner, Token: token, AssetId: assetId, Value: new(Amount).Set(n.value)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// find walks the chain for key looking for owner's node. Callers must hold
// at least a read lock.
func (b *StashBook) find(key stashKey, owner Principal) *stashNode {
	for n := b.heads[key]; n != nil; n = n.next {
		if n.owner == owner {
			return n
		}
	}
	return nil
}

// Deposit increases owner's stash against (token, assetId) by amount and
// returns the new total.
func (b *StashBook) Deposit(token TokenId, assetId AssetTag, owner Principal, amount *Amount) (*Amount, error) {
	return b.adjust(token, assetId, owner, amount, true)
}

// Withdraw decreases owner's stash against (token, assetId) by amount and
// returns the new total. It fails with StashNotBigEnoughError if amount
// exceeds the current stash.
func (b *StashBook) Withdraw(token TokenId, assetId AssetTag, owner Principal, amount *Amount) (*Amount, error) {
	return b.adjust(token, assetId, owner, amount, false)
}

// adjust is the shared increase/decrease path; both directions funnel
// through the same remove-then-reinsert so the chain never observes a
// partially-updated node.
func (b *StashBook) adjust(token TokenId, assetId AssetTag, owner Principal, delta *Amount, credit bool) (*Amount, error) {
	if IsZero(delta) {
		return nil, ErrZeroValue
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := stashKey{token: token, asset: assetId}
	current := ZeroAmount()
	if n := b.find(key, owner); n != nil {
		current = new(Amount).Set(n.value)
	}

	var next Amount
	if credit {
		if overflowed := next.AddOverflow(current, delta); overflowed {
			return nil, &TokenTransferFailedError{Token: token, From: owner, To: owner, Amount: delta}
		}
	} else {
		if current.Lt(delta) {
			return nil, &StashNotBigEnoughError{Owner: owner, AssetId: assetId, Requested: new(Amount).Set(delta), Available: current}
		}
		next.Sub(current, delta)
	}

	b.remove(key, owner)
	if !next.IsZero() {
		b.insert(key, owner, &next)
	}
	return new(Amount).Set(&next), nil
}

// Move atomically transfers amount of owner's stash against (token,
// fromAsset) to a different asset bucket toAsset while keeping the
// same owner — used by moveStash to re-peg liquidity without a withdraw/
// deposit round trip through the TokenLedger.
func (b *StashBook) Move(token TokenId, fromAsset, toAsset AssetTag, owner Principal, amount *Amount) error {
	if IsZero(amount) {
		return ErrZeroValue
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fromKey := stashKey{token: token, asset: fromAsset}
	n := b.find(fromKey, owner)
	current := ZeroAmount()
	if n != nil {
		current = new(Amount).Set(n.value)
	}
	if current.Lt(amount) {
		return &StashNotBigEnoughError{Owner: owner, AssetId: fromAsset, Requested: new(Amount).Set(amount), Available: current}
	}
	var remaining Amount
	remaining.Sub(current, amount)

	toKey := stashKey{token: token, asset: toAsset}
	toCurrent := ZeroAmount()
	if tn := b.find(toKey, owner); tn != nil {
		toCurrent = new(Amount).Set(tn.value)
	}
	var toNext Amount
	if overflowed := toNext.AddOverflow(toCurrent, amount); overflowed {
		return &TokenTransferFailedError{Token: token, From: owner, To: owner, Amount: amount}
	}

	b.remove(fromKey, owner)
	if !remaining.IsZero() {
		b.insert(fromKey, owner, &remaining)
	}
	b.remove(toKey, owner)
	b.insert(toKey, owner, &toNext)
	return nil
}

// remove splices owner's node out of key's chain, if present. Callers must
// hold the write lock.
func (b *StashBook) remove(key stashKey, owner Principal) {
	head := b.heads[key]
	if head == nil {
		return
	}
	if head.owner == owner {
		b.heads[key] = head.next
		if b.heads[key] == nil {
			delete(b.heads, key)
		}
		return
	}
	for n := head; n.next != nil; n = n.next {
		if n.next.owner == owner {
			n.next = n.next.next
			return
		}
	}
}

// insert splices a new node for owner into key's chain at the position
// that keeps the chain sorted descending by value. Ties are broken by
// arrival: a node being (re)inserted at a value that equals one or more
// existing nodes' value goes after all of them, so an update that leaves
// an owner's amount within the same tie band never displaces the owners
// already occupying it — stable FIFO-within-tie, matching the ordering
// guarantee adjust and Move rely on. Callers must hold the write lock and
// must have already removed any prior node for owner.
func (b *StashBook) insert(key stashKey, owner Principal, value *Amount) {
	node := &stashNode{owner: owner, value: value}
	head := b.heads[key]
	if head == nil || less(head, node) {
		node.next = head
		b.heads[key] = node
		return
	}
	prev := head
	for prev.next != nil && !less(prev.next, node) {
		prev = prev.next
	}
	node.next = prev.next
	prev.next = node
}

// less reports whether candidate sorts strictly before existing: larger
// value first. Equal values are not "less", which is what pushes a tied
// candidate past every existing node at that value during insert's walk.
func less(existing, candidate *stashNode) bool {
	return candidate.value.Cmp(existing.value) > 0
}

// Hydrate installs a stash entry read back from durable storage, bypassing
// the credit/debit arithmetic Deposit and Withdraw perform. It is meant
// only for rebuilding a StashBook from a persisted snapshot at startup,
// before the book is exposed to any SwapEngine.
func (b *StashBook) Hydrate(token TokenId, assetId AssetTag, owner Principal, value *Amount) {
	if IsZero(value) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := stashKey{token: token, asset: assetId}
	b.insert(key, owner, new(Amount).Set(value))
}

// Totals returns the sum of every stash held against (token, assetId),
// across all owners — used by read-surface diagnostics, not by any
// operation's control flow.
func (b *StashBook) Totals(token TokenId, assetId AssetTag) *Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := ZeroAmount()
	for n := b.heads[stashKey{token: token, asset: assetId}]; n != nil; n = n.next {
		total.Add(total, n.value)
	}
	return total
}

// Owners returns the distinct owners holding a stash against (token,
// assetId), in the same descending-value order as List.
func (b *StashBook) Owners(token TokenId, assetId AssetTag) []Principal {
	stashes := b.List(token, assetId, 0)
	owners := make([]Principal, len(stashes))
	for i, s := range stashes {
		owners[i] = s.Owner
	}
	return owners
}
