// Package storage - escrow engine persistence: live locks, stash entries,
// the append-only event log, and the proxy directory. Generalizes the
// swaps.go "recovery after node restart" pattern from a single long-lived
// swap record to the escrow engine's create/claim churn.
package storage

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acuity-social/swaplock/internal/escrow"
)

// Escrow persistence errors.
var (
	ErrLockRecordNotFound  = errors.New("lock record not found")
	ErrStashRecordNotFound = errors.New("stash record not found")
)

// LockRecord is the durable form of escrow.Lock, keyed by its LockId.
type LockRecord struct {
	LockId       escrow.Digest
	Token        escrow.TokenId
	Sender       escrow.Principal
	Recipient    escrow.Principal
	HashedSecret escrow.Digest
	Timeout      escrow.Timestamp
	AssetId      escrow.AssetTag
	Value        *escrow.Amount
	FromStash    bool
}

func (s *Storage) escrowSchema() string {
	return `
	CREATE TABLE IF NOT EXISTS escrow_locks (
		lock_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		hashed_secret TEXT NOT NULL,
		timeout INTEGER NOT NULL,
		asset_id TEXT NOT NULL,
		value TEXT NOT NULL,
		from_stash INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS escrow_stashes (
		token TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (token, asset_id, owner)
	);

	CREATE TABLE IF NOT EXISTS escrow_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		token TEXT NOT NULL,
		sender TEXT,
		recipient TEXT,
		lock_id TEXT,
		amount TEXT,
		account TEXT,
		asset_id TEXT,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS account_proxies (
		account TEXT PRIMARY KEY,
		proxy TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
}

// SaveLock upserts the durable form of a live lock.
func (s *Storage) SaveLock(rec *LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromStash := 0
	if rec.FromStash {
		fromStash = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO escrow_locks (lock_id, token, sender, recipient, hashed_secret, timeout, asset_id, value, from_stash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lock_id) DO UPDATE SET value = excluded.value
	`,
		hex.EncodeToString(rec.LockId[:]), rec.Token.Hex(), rec.Sender.Hex(), rec.Recipient.Hex(),
		hex.EncodeToString(rec.HashedSecret[:]), uint64(rec.Timeout), hex.EncodeToString(rec.AssetId[:]),
		rec.Value.Dec(), fromStash,
	)
	if err != nil {
		return fmt.Errorf("failed to save lock: %w", err)
	}
	return nil
}

// DeleteLock removes the durable record for a resolved lock.
func (s *Storage) DeleteLock(id escrow.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM escrow_locks WHERE lock_id = ?`, hex.EncodeToString(id[:]))
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

// ListLocks returns every durable lock record, for hydrating a LockStore
// on startup.
func (s *Storage) ListLocks() ([]*LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT lock_id, token, sender, recipient, hashed_secret, timeout, asset_id, value, from_stash FROM escrow_locks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer rows.Close()

	var out []*LockRecord
	for rows.Next() {
		rec, err := scanLockRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanLockRow(rows *sql.Rows) (*LockRecord, error) {
	var lockIdHex, tokenHex, senderHex, recipientHex, hashedSecretHex, assetIdHex, valueDec string
	var timeout uint64
	var fromStash int
	if err := rows.Scan(&lockIdHex, &tokenHex, &senderHex, &recipientHex, &hashedSecretHex, &timeout, &assetIdHex, &valueDec, &fromStash); err != nil {
		return nil, fmt.Errorf("failed to scan lock row: %w", err)
	}
	rec := &LockRecord{
		Token:     common.HexToAddress(tokenHex),
		Sender:    common.HexToAddress(senderHex),
		Recipient: common.HexToAddress(recipientHex),
		Timeout:   escrow.Timestamp(timeout),
		FromStash: fromStash != 0,
	}
	if err := decodeDigest(lockIdHex, &rec.LockId); err != nil {
		return nil, err
	}
	if err := decodeDigest(hashedSecretHex, &rec.HashedSecret); err != nil {
		return nil, err
	}
	if err := decodeAssetTag(assetIdHex, &rec.AssetId); err != nil {
		return nil, err
	}
	value, err := decodeAmount(valueDec)
	if err != nil {
		return nil, err
	}
	rec.Value = value
	return rec, nil
}

// SaveStash upserts (or deletes, when value is zero) the durable form of a
// single owner's stash entry for (token, assetId).
func (s *Storage) SaveStash(token escrow.TokenId, assetId escrow.AssetTag, owner escrow.Principal, value *escrow.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if escrow.IsZero(value) {
		_, err := s.db.Exec(`DELETE FROM escrow_stashes WHERE token = ? AND asset_id = ? AND owner = ?`,
			token.Hex(), hex.EncodeToString(assetId[:]), owner.Hex())
		if err != nil {
			return fmt.Errorf("failed to delete stash: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO escrow_stashes (token, asset_id, owner, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token, asset_id, owner) DO UPDATE SET value = excluded.value
	`, token.Hex(), hex.EncodeToString(assetId[:]), owner.Hex(), value.Dec())
	if err != nil {
		return fmt.Errorf("failed to save stash: %w", err)
	}
	return nil
}

// StashRecord is the durable form of a single StashBook entry.
type StashRecord struct {
	Token   escrow.TokenId
	AssetId escrow.AssetTag
	Owner   escrow.Principal
	Value   *escrow.Amount
}

// ListStashes returns every durable stash record, for hydrating a
// StashBook on startup.
func (s *Storage) ListStashes() ([]*StashRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT token, asset_id, owner, value FROM escrow_stashes`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stashes: %w", err)
	}
	defer rows.Close()

	var out []*StashRecord
	for rows.Next() {
		var tokenHex, assetIdHex, ownerHex, valueDec string
		if err := rows.Scan(&tokenHex, &assetIdHex, &ownerHex, &valueDec); err != nil {
			return nil, fmt.Errorf("failed to scan stash row: %w", err)
		}
		rec := &StashRecord{Token: common.HexToAddress(tokenHex), Owner: common.HexToAddress(ownerHex)}
		if err := decodeAssetTag(assetIdHex, &rec.AssetId); err != nil {
			return nil, err
		}
		value, err := decodeAmount(valueDec)
		if err != nil {
			return nil, err
		}
		rec.Value = value
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendEvent appends a committed escrow.Event to the durable, append-only
// event log, for indexer replay and post-restart auditing.
func (s *Storage) AppendEvent(e escrow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sender, recipient, lockId, amount, account, assetId sql.NullString
	if e.Sender != (escrow.Principal{}) {
		sender = sql.NullString{String: e.Sender.Hex(), Valid: true}
	}
	if e.Recipient != (escrow.Principal{}) {
		recipient = sql.NullString{String: e.Recipient.Hex(), Valid: true}
	}
	if e.LockId != (escrow.Digest{}) {
		lockId = sql.NullString{String: hex.EncodeToString(e.LockId[:]), Valid: true}
	}
	if e.Amount != nil {
		amount = sql.NullString{String: e.Amount.Dec(), Valid: true}
	}
	if e.Account != (escrow.Principal{}) {
		account = sql.NullString{String: e.Account.Hex(), Valid: true}
	}
	if e.AssetId != (escrow.AssetTag{}) {
		assetId = sql.NullString{String: hex.EncodeToString(e.AssetId[:]), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO escrow_events (kind, token, sender, recipient, lock_id, amount, account, asset_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.Kind), e.Token.Hex(), sender, recipient, lockId, amount, account, assetId, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// SaveProxy records that proxy is authorised to act on behalf of account.
func (s *Storage) SaveProxy(account, proxy escrow.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO account_proxies (account, proxy, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET proxy = excluded.proxy, updated_at = excluded.updated_at
	`, account.Hex(), proxy.Hex(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save proxy: %w", err)
	}
	return nil
}

// LoadProxies returns the full account -> proxy map, for hydrating an
// escrow.StaticDirectory on startup.
func (s *Storage) LoadProxies() (map[escrow.Principal]escrow.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT account, proxy FROM account_proxies`)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxies: %w", err)
	}
	defer rows.Close()

	out := make(map[escrow.Principal]escrow.Principal)
	for rows.Next() {
		var accountHex, proxyHex string
		if err := rows.Scan(&accountHex, &proxyHex); err != nil {
			return nil, fmt.Errorf("failed to scan proxy row: %w", err)
		}
		out[common.HexToAddress(accountHex)] = common.HexToAddress(proxyHex)
	}
	return out, rows.Err()
}

func decodeDigest(s string, out *escrow.Digest) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("storage: invalid digest %q", s)
	}
	copy(out[:], b)
	return nil
}

func decodeAssetTag(s string, out *escrow.AssetTag) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("storage: invalid asset tag %q", s)
	}
	copy(out[:], b)
	return nil
}

func decodeAmount(s string) (*escrow.Amount, error) {
	v := new(uint256.Int)
	if err := v.SetFromDecimal(s); err != nil {
		return nil, fmt.Errorf("storage: invalid amount %q: %w", s, err)
	}
	return v, nil
}
