// Package escrow implements the hash-timelock atomic-swap escrow engine:
// a LockStore of content-addressed escrow cells, a StashBook of ordered
// advertised liquidity, and a SwapEngine that mediates between them and an
// external TokenLedger.
package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Principal is a 20-byte account identifier authenticated by the host
// environment. The engine trusts the caller's identity layer to bind each
// operation to exactly one Principal.
type Principal = common.Address

// TokenId is a 20-byte external-token identifier. NativeToken denotes the
// chain's native asset: no TokenLedger call is made for it, and its amount
// is carried directly by the operation envelope.
type TokenId = common.Address

// NativeToken is the reserved sentinel TokenId meaning "chain-native asset,
// no external ledger involved."
var NativeToken = common.Address{}

// IsNative reports whether id is the native-asset sentinel.
func IsNative(id TokenId) bool {
	return id == NativeToken
}

// AssetTag is an opaque 32-byte label naming the counter-asset a Stash or
// Lock is willing to be exchanged against. The engine assigns no semantics
// to it beyond equality.
type AssetTag [32]byte

// Digest is the 32-byte output of the Hasher.
type Digest [32]byte

// Amount is an unsigned 256-bit integer with checked arithmetic; overflow
// must never wrap silently. uint256.Int is the same fixed-width integer
// go-ethereum itself uses for EVM word arithmetic, and its Add/Sub/etc.
// report overflow instead of masking it.
type Amount = uint256.Int

// Timestamp is whole seconds, wall-clock.
type Timestamp uint64

// ZeroAmount returns a fresh zero-valued Amount.
func ZeroAmount() *Amount {
	return new(Amount)
}

// NewAmount builds an Amount from a uint64, for convenience at call sites
// and in tests.
func NewAmount(v uint64) *Amount {
	return new(Amount).SetUint64(v)
}

// IsZero reports whether a is nil or zero.
func IsZero(a *Amount) bool {
	return a == nil || a.IsZero()
}
