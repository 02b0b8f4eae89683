// Package directory provides a persistent escrow.AccountDirectory backed by
// storage.Storage, letting an account delegate its proxy-gated operations
// (UnlockByRecipientProxy, LockSellProxy, TimeoutValueProxy, TimeoutStashProxy)
// to another key across daemon restarts.
package directory

import (
	"sync"

	"github.com/acuity-social/swaplock/internal/escrow"
	"github.com/acuity-social/swaplock/internal/storage"
)

// Directory is a cached, persistent escrow.AccountDirectory. Reads are
// served from an in-memory map hydrated at construction; writes go through
// to storage before updating the cache, so a crash between the two leaves
// storage as the source of truth for the next hydration.
type Directory struct {
	store *storage.Storage

	mu      sync.RWMutex
	proxies map[escrow.Principal]escrow.Principal
}

// New loads the current account-to-proxy map from store and returns a
// Directory ready to serve escrow.AccountDirectory.ProxyOf.
func New(store *storage.Storage) (*Directory, error) {
	proxies, err := store.LoadProxies()
	if err != nil {
		return nil, err
	}
	return &Directory{store: store, proxies: proxies}, nil
}

// ProxyOf implements escrow.AccountDirectory. An account with no registered
// proxy returns the zero Principal, which can never match a real caller.
func (d *Directory) ProxyOf(account escrow.Principal) escrow.Principal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.proxies[account]
}

// SetProxy authorises proxy to act on behalf of account, persisting the
// assignment before it becomes visible to ProxyOf.
func (d *Directory) SetProxy(account, proxy escrow.Principal) error {
	if err := d.store.SaveProxy(account, proxy); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proxies[account] = proxy
	return nil
}
