package storage

import (
	"os"
	"testing"

	"github.com/acuity-social/swaplock/internal/escrow"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "swaplock-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveLockRoundTrip(t *testing.T) {
	store := newTestStorage(t)

	var lockId escrow.Digest
	lockId[0] = 0xaa
	rec := &LockRecord{
		LockId:    lockId,
		Token:     escrow.NativeToken,
		Sender:    escrow.Principal{1},
		Recipient: escrow.Principal{2},
		Timeout:   escrow.Timestamp(1234),
		Value:     escrow.NewAmount(500),
		FromStash: true,
	}
	if err := store.SaveLock(rec); err != nil {
		t.Fatalf("SaveLock() error = %v", err)
	}

	locks, err := store.ListLocks()
	if err != nil {
		t.Fatalf("ListLocks() error = %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("ListLocks() returned %d locks, want 1", len(locks))
	}
	got := locks[0]
	if got.LockId != lockId || got.Sender != rec.Sender || got.Recipient != rec.Recipient {
		t.Fatalf("ListLocks() = %+v, want matching %+v", got, rec)
	}
	if got.Value.Cmp(rec.Value) != 0 {
		t.Fatalf("ListLocks() value = %s, want %s", got.Value.Dec(), rec.Value.Dec())
	}
	if !got.FromStash {
		t.Fatalf("ListLocks() FromStash = false, want true")
	}

	if err := store.DeleteLock(lockId); err != nil {
		t.Fatalf("DeleteLock() error = %v", err)
	}
	locks, err = store.ListLocks()
	if err != nil {
		t.Fatalf("ListLocks() error = %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("ListLocks() after delete returned %d locks, want 0", len(locks))
	}
}

func TestSaveStashRoundTripAndZeroDeletes(t *testing.T) {
	store := newTestStorage(t)

	token := escrow.NativeToken
	var asset escrow.AssetTag
	asset[0] = 7
	owner := escrow.Principal{9}

	if err := store.SaveStash(token, asset, owner, escrow.NewAmount(300)); err != nil {
		t.Fatalf("SaveStash() error = %v", err)
	}
	stashes, err := store.ListStashes()
	if err != nil {
		t.Fatalf("ListStashes() error = %v", err)
	}
	if len(stashes) != 1 || stashes[0].Value.Cmp(escrow.NewAmount(300)) != 0 {
		t.Fatalf("ListStashes() = %+v, want one entry of 300", stashes)
	}

	if err := store.SaveStash(token, asset, owner, escrow.ZeroAmount()); err != nil {
		t.Fatalf("SaveStash(0) error = %v", err)
	}
	stashes, err = store.ListStashes()
	if err != nil {
		t.Fatalf("ListStashes() error = %v", err)
	}
	if len(stashes) != 0 {
		t.Fatalf("ListStashes() after zeroing = %+v, want empty", stashes)
	}
}

func TestAppendEvent(t *testing.T) {
	store := newTestStorage(t)
	ev := escrow.Event{
		Kind:   escrow.EventStashAdd,
		Token:  escrow.NativeToken,
		Amount: escrow.NewAmount(42),
	}
	if err := store.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
}

func TestSaveAndLoadProxies(t *testing.T) {
	store := newTestStorage(t)
	account := escrow.Principal{1}
	proxy := escrow.Principal{2}

	if err := store.SaveProxy(account, proxy); err != nil {
		t.Fatalf("SaveProxy() error = %v", err)
	}
	proxies, err := store.LoadProxies()
	if err != nil {
		t.Fatalf("LoadProxies() error = %v", err)
	}
	if proxies[account] != proxy {
		t.Fatalf("LoadProxies()[account] = %v, want %v", proxies[account], proxy)
	}
}
