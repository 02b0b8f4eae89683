package escrow

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hasher is the external collaborator that produces the 32-byte commitment
// digest, assumed collision- and preimage-resistant. Both hashed_secret =
// Hasher(secret) and lock_id = Hasher(encode(...)) go through this.
type Hasher interface {
	Hash(data []byte) Digest
}

// Keccak256Hasher is the default Hasher, backed by go-ethereum's Keccak256 —
// the same digest the project's EVM-facing TokenLedger adapter already
// speaks, so a lock id derived here matches what an on-chain verifier
// (given the same encoding) would recompute.
type Keccak256Hasher struct{}

// Hash implements Hasher.
func (Keccak256Hasher) Hash(data []byte) Digest {
	return Digest(crypto.Keccak256Hash(data))
}

// lockParamsSize is the fixed width of the canonical lock-id encoding:
// token(20) || sender(20) || recipient(20) || hashedSecret(32) || timeout(8).
const lockParamsSize = 20 + 20 + 20 + 32 + 8

// EncodeLockParams produces the canonical, length-unambiguous byte string
// fingerprinting a lock's parameters. Every field is fixed-width, so no two
// distinct tuples can produce the same bytes. The token field is always
// present — NativeToken (the zero address) for native-only locks — so a
// native lock and a token lock with otherwise identical parameters never
// collide.
func EncodeLockParams(token TokenId, sender, recipient Principal, hashedSecret Digest, timeout Timestamp) []byte {
	buf := make([]byte, 0, lockParamsSize)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, hashedSecret[:]...)
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(timeout))
	buf = append(buf, tsBytes[:]...)
	return buf
}

// ComputeLockId derives the content-addressed LockId for a set of swap
// parameters using the given Hasher.
func ComputeLockId(h Hasher, token TokenId, sender, recipient Principal, hashedSecret Digest, timeout Timestamp) Digest {
	return h.Hash(EncodeLockParams(token, sender, recipient, hashedSecret, timeout))
}
