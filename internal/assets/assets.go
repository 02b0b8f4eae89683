// Package assets is the declarative registry of tokens and counter-asset
// tags this daemon knows about, generalizing per-chain token tables into
// the escrow engine's (TokenId, AssetTag) vocabulary.
package assets

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/acuity-social/swaplock/internal/escrow"
)

// Entry describes one asset this daemon can lock, stash, or quote in terms
// of: either the native chain asset or a specific ERC-20-style contract.
type Entry struct {
	Symbol   string
	Name     string
	Token    escrow.TokenId // escrow.NativeToken for the chain-native asset
	Decimals uint8
}

// IsNative reports whether e names the chain-native asset.
func (e Entry) IsNative() bool {
	return escrow.IsNative(e.Token)
}

// Registry is a thread-safe symbol -> Entry table. The zero value is ready
// to use; NewRegistry pre-populates it with Default().
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns a Registry seeded with Default().
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for _, e := range Default() {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the entry for e.Symbol.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Symbol] = e
}

// Lookup returns the entry registered under symbol, if any.
func (r *Registry) Lookup(symbol string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[symbol]
	return e, ok
}

// LookupToken returns the symbol and entry for a TokenId, if one is
// registered. Used by the RPC layer to render a human-readable name in
// event payloads.
func (r *Registry) LookupToken(token escrow.TokenId) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Token == token {
			return e, true
		}
	}
	return Entry{}, false
}

// List returns every registered entry, in no particular order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// AssetTagFor derives the canonical AssetTag for a human-readable
// counter-asset symbol (e.g. "USDC", "ETH/native"). The engine itself
// assigns no meaning to an AssetTag beyond equality — this hashing is a
// daemon-level convenience so operators can advertise stashes by symbol
// instead of by raw 32-byte tag, grounded on the same Keccak256 already
// used for LockId derivation.
func AssetTagFor(symbol string) escrow.AssetTag {
	return escrow.AssetTag(crypto.Keccak256Hash([]byte(symbol)))
}

// ParseToken parses a hex contract address into a TokenId, or returns
// escrow.NativeToken for the empty string / the literal "NATIVE".
func ParseToken(s string) (escrow.TokenId, error) {
	if s == "" || s == "NATIVE" {
		return escrow.NativeToken, nil
	}
	if !common.IsHexAddress(s) {
		return escrow.TokenId{}, fmt.Errorf("assets: invalid token address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Default returns the built-in asset set this daemon recognises out of the
// box, scoped to the EVM-style assets this engine's TokenLedger adapter
// actually speaks.
func Default() []Entry {
	return []Entry{
		{Symbol: "NATIVE", Name: "Chain-native asset", Token: escrow.NativeToken, Decimals: 18},
		{Symbol: "USDC", Name: "USD Coin", Token: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
		{Symbol: "USDT", Name: "Tether USD", Token: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6},
		{Symbol: "WETH", Name: "Wrapped Ether", Token: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
	}
}
