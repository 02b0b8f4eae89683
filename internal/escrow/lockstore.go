package escrow

import "sync"

// Lock is the payload held behind a LockId: enough to resolve any of the
// unlock/decline/timeout paths without consulting anything else, and to
// reconstruct the value that must move through the TokenLedger or StashBook
// on resolution.
type Lock struct {
	Token        TokenId
	Sender       Principal
	Recipient    Principal
	HashedSecret Digest
	Timeout      Timestamp
	AssetId      AssetTag
	Value        *Amount
	// FromStash is true when the locked value was drawn from the sender's
	// StashBook entry rather than pulled fresh through the TokenLedger. It
	// is recorded for persistence and queries only: no resolution path
	// reads it, and timeoutValue and timeoutStash treat such a lock like
	// any other.
	FromStash bool
}

// LockStore is the content-addressed table of escrow cells keyed by LockId.
// It knows nothing about hashing, secrets, or timeouts beyond storing and
// returning them — the state machine (which operation is legal when) lives
// in SwapEngine.
type LockStore struct {
	mu    sync.RWMutex
	locks map[Digest]*Lock
}

// NewLockStore returns an empty LockStore.
func NewLockStore() *LockStore {
	return &LockStore{locks: make(map[Digest]*Lock)}
}

// Create inserts a new Lock under id. It fails with LockAlreadyExistsError
// if id is already occupied — callers rely on this to make LockId
// collisions (including a resubmitted identical request) a hard error
// rather than a silent overwrite.
func (s *LockStore) Create(id Digest, lock *Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.locks[id]; exists {
		return &LockAlreadyExistsError{LockId: id}
	}
	s.locks[id] = lock
	return nil
}

// Peek returns the Lock stored under id without removing it, for read-only
// queries (escrow_getLock and similar). It fails with LockNotFoundError if
// nothing is stored there.
func (s *LockStore) Peek(id Digest) (*Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[id]
	if !ok {
		return nil, &LockNotFoundError{LockId: id}
	}
	return lock, nil
}

// Claim atomically retrieves and deletes the Lock stored under id. Every
// terminal path through a Lock — unlock, decline, or timeout — goes through
// Claim, so a given LockId can resolve exactly once regardless of how many
// callers race to resolve it concurrently.
func (s *LockStore) Claim(id Digest) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		return nil, &LockNotFoundError{LockId: id}
	}
	delete(s.locks, id)
	return lock, nil
}

// restore re-inserts lock under id unconditionally, bypassing the
// already-exists check Create performs. It exists solely to undo a Claim
// when a later step of the same SwapEngine operation fails after the Lock
// was already removed — never call it for anything else.
func (s *LockStore) restore(id Digest, lock *Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[id] = lock
}

// Hydrate installs a Lock read back from durable storage under id,
// unconditionally. Like restore, it bypasses Create's already-exists
// check, but it is meant only for rebuilding a LockStore from a persisted
// snapshot at startup, before the store is exposed to any SwapEngine.
func (s *LockStore) Hydrate(id Digest, lock *Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[id] = lock
}

// Exists reports whether id currently names a live Lock, without the
// allocation Peek's error path would cost.
func (s *LockStore) Exists(id Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locks[id]
	return ok
}

// Len returns the number of live locks, for diagnostics and tests.
func (s *LockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}
