// Package rpc - JSON-RPC surface for the escrow engine's operation
// catalogue, mirroring the param/result struct + Handler pattern the
// teacher's swap_htlc.go and wallet_handlers.go use for every other method.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/acuity-social/swaplock/internal/assets"
	"github.com/acuity-social/swaplock/internal/escrow"
)

// Emit implements escrow.EventSink, broadcasting every committed escrow
// event to subscribed WebSocket clients alongside the existing peer and
// node status event streams.
func (h *WSHub) Emit(e escrow.Event) {
	h.Broadcast(EventEscrow, escrowEventToWire(e))
}

// serverEventSink forwards escrow events to the server's WebSocket hub.
// The hub is created lazily in Server.Start, after SetEscrowEngine has
// already handed the engine its sink, so the forwarding happens through
// this indirection rather than a direct *WSHub reference.
type serverEventSink struct {
	server *Server
}

// NewServerEventSink returns an escrow.EventSink that forwards to s's
// WebSocket hub once it exists, and is a no-op before then.
func NewServerEventSink(s *Server) escrow.EventSink {
	return serverEventSink{server: s}
}

func (s serverEventSink) Emit(e escrow.Event) {
	if hub := s.server.wsHub; hub != nil {
		hub.Emit(e)
	}
}

type escrowEventWire struct {
	Kind         string `json:"kind"`
	Token        string `json:"token"`
	Sender       string `json:"sender,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	HashedSecret string `json:"hashed_secret,omitempty"`
	Timeout      uint64 `json:"timeout,omitempty"`
	Amount       string `json:"amount,omitempty"`
	LockId       string `json:"lock_id,omitempty"`
	Account      string `json:"account,omitempty"`
	AssetId      string `json:"asset_id,omitempty"`
}

func escrowEventToWire(e escrow.Event) escrowEventWire {
	w := escrowEventWire{Kind: string(e.Kind), Token: e.Token.Hex(), Timeout: uint64(e.Timeout)}
	if e.Sender != (escrow.Principal{}) {
		w.Sender = e.Sender.Hex()
	}
	if e.Recipient != (escrow.Principal{}) {
		w.Recipient = e.Recipient.Hex()
	}
	if e.HashedSecret != (escrow.Digest{}) {
		w.HashedSecret = hex.EncodeToString(e.HashedSecret[:])
	}
	if e.Amount != nil {
		w.Amount = e.Amount.Dec()
	}
	if e.LockId != (escrow.Digest{}) {
		w.LockId = hex.EncodeToString(e.LockId[:])
	}
	if e.Account != (escrow.Principal{}) {
		w.Account = e.Account.Hex()
	}
	if e.AssetId != (escrow.AssetTag{}) {
		w.AssetId = hex.EncodeToString(e.AssetId[:])
	}
	return w
}

// registerEscrowHandlers wires the escrow engine's operations into the
// method table. Called from SetEscrowEngine.
func (s *Server) registerEscrowHandlers() {
	s.handlers["escrow_lockBuy"] = s.escrowLockBuy
	s.handlers["escrow_lockSell"] = s.escrowLockSell
	s.handlers["escrow_lockSellProxy"] = s.escrowLockSellProxy
	s.handlers["escrow_lockSellDirect"] = s.escrowLockSellDirect
	s.handlers["escrow_declineByRecipient"] = s.escrowDeclineByRecipient
	s.handlers["escrow_unlockBySender"] = s.escrowUnlockBySender
	s.handlers["escrow_unlockByRecipient"] = s.escrowUnlockByRecipient
	s.handlers["escrow_unlockByRecipientProxy"] = s.escrowUnlockByRecipientProxy
	s.handlers["escrow_timeoutValue"] = s.escrowTimeoutValue
	s.handlers["escrow_timeoutValueProxy"] = s.escrowTimeoutValueProxy
	s.handlers["escrow_timeoutStash"] = s.escrowTimeoutStash
	s.handlers["escrow_timeoutStashProxy"] = s.escrowTimeoutStashProxy
	s.handlers["escrow_depositStash"] = s.escrowDepositStash
	s.handlers["escrow_withdrawStash"] = s.escrowWithdrawStash
	s.handlers["escrow_moveStash"] = s.escrowMoveStash
	s.handlers["escrow_getStash"] = s.escrowGetStash
	s.handlers["escrow_listStashes"] = s.escrowListStashes
	s.handlers["escrow_getLock"] = s.escrowGetLock
	s.handlers["escrow_listAssets"] = s.escrowListAssets
}

// --- shared param/result shapes ---

type lockIdResult struct {
	LockId string `json:"lock_id"`
}

func parseDigestField(name, s string) (escrow.Digest, error) {
	var d escrow.Digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(d) {
		return d, fmt.Errorf("invalid %s: %q", name, s)
	}
	copy(d[:], b)
	return d, nil
}

func parseAssetTagField(name, s string) (escrow.AssetTag, error) {
	var a escrow.AssetTag
	if s == "" {
		return a, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return a, fmt.Errorf("invalid %s: %q", name, s)
	}
	copy(a[:], b)
	return a, nil
}

func parseAmountField(name, s string) (*escrow.Amount, error) {
	amount := new(escrow.Amount)
	if err := amount.SetFromDecimal(s); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return amount, nil
}

// --- lock creation ---

type lockBuyParams struct {
	Token        string `json:"token"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashed_secret"`
	Timeout      uint64 `json:"timeout"`
	SellAssetId  string `json:"sell_asset_id,omitempty"`
	SellPrice    string `json:"sell_price,omitempty"`
	Amount       string `json:"amount"`
}

func (s *Server) escrowLockBuy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lockBuyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.HashedSecret)
	if err != nil {
		return nil, err
	}
	sellAssetId, err := parseAssetTagField("sell_asset_id", p.SellAssetId)
	if err != nil {
		return nil, err
	}
	sellPrice := escrow.ZeroAmount()
	if p.SellPrice != "" {
		if sellPrice, err = parseAmountField("sell_price", p.SellPrice); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmountField("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.LockBuy(ctx, s.callerPrincipal(ctx), token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout), sellAssetId, sellPrice, amount)
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

type lockSellParams struct {
	Token        string `json:"token"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashed_secret"`
	Timeout      uint64 `json:"timeout"`
	StashAssetId string `json:"stash_asset_id"`
	Amount       string `json:"amount"`
	BuyLockId    string `json:"buy_lock_id,omitempty"`
	Account      string `json:"account,omitempty"`
}

func (s *Server) escrowLockSell(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doLockSell(ctx, params, false)
}

func (s *Server) escrowLockSellProxy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doLockSell(ctx, params, true)
}

func (s *Server) doLockSell(ctx context.Context, params json.RawMessage, proxy bool) (interface{}, error) {
	var p lockSellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.HashedSecret)
	if err != nil {
		return nil, err
	}
	stashAssetId, err := parseAssetTagField("stash_asset_id", p.StashAssetId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountField("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	var buyLockId escrow.Digest
	if p.BuyLockId != "" {
		if buyLockId, err = parseDigestField("buy_lock_id", p.BuyLockId); err != nil {
			return nil, err
		}
	}
	caller := s.callerPrincipal(ctx)
	recipient := common.HexToAddress(p.Recipient)

	var id escrow.Digest
	if proxy {
		id, err = s.engine.LockSellProxy(ctx, caller, common.HexToAddress(p.Account), token, recipient, hashedSecret, escrow.Timestamp(p.Timeout), stashAssetId, amount, buyLockId)
	} else {
		id, err = s.engine.LockSell(ctx, caller, token, recipient, hashedSecret, escrow.Timestamp(p.Timeout), stashAssetId, amount, buyLockId)
	}
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

type lockSellDirectParams struct {
	Token        string `json:"token"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashed_secret"`
	Timeout      uint64 `json:"timeout"`
	Amount       string `json:"amount"`
	BuyAssetId   string `json:"buy_asset_id,omitempty"`
	BuyLockId    string `json:"buy_lock_id,omitempty"`
}

func (s *Server) escrowLockSellDirect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lockSellDirectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.HashedSecret)
	if err != nil {
		return nil, err
	}
	buyAssetId, err := parseAssetTagField("buy_asset_id", p.BuyAssetId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountField("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	var buyLockId escrow.Digest
	if p.BuyLockId != "" {
		if buyLockId, err = parseDigestField("buy_lock_id", p.BuyLockId); err != nil {
			return nil, err
		}
	}
	id, err := s.engine.LockSellDirect(ctx, s.callerPrincipal(ctx), token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout), amount, buyAssetId, buyLockId)
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

// --- lock resolution ---

type lockResolutionParams struct {
	Token     string `json:"token"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Secret    string `json:"secret,omitempty"`
	Timeout   uint64 `json:"timeout"`
	Account   string `json:"account,omitempty"`
}

func (s *Server) escrowDeclineByRecipient(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lockResolutionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.Secret)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.DeclineByRecipient(ctx, s.callerPrincipal(ctx), token, common.HexToAddress(p.Sender), hashedSecret, escrow.Timestamp(p.Timeout))
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

func (s *Server) escrowUnlockBySender(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lockResolutionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret: %w", err)
	}
	id, err := s.engine.UnlockBySender(ctx, s.callerPrincipal(ctx), token, common.HexToAddress(p.Recipient), secret, escrow.Timestamp(p.Timeout))
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

func (s *Server) escrowUnlockByRecipient(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doUnlockByRecipient(ctx, params, false)
}

func (s *Server) escrowUnlockByRecipientProxy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doUnlockByRecipient(ctx, params, true)
}

func (s *Server) doUnlockByRecipient(ctx context.Context, params json.RawMessage, proxy bool) (interface{}, error) {
	var p lockResolutionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret: %w", err)
	}
	caller := s.callerPrincipal(ctx)

	var id escrow.Digest
	if proxy {
		id, err = s.engine.UnlockByRecipientProxy(ctx, caller, common.HexToAddress(p.Account), token, common.HexToAddress(p.Sender), secret, escrow.Timestamp(p.Timeout))
	} else {
		id, err = s.engine.UnlockByRecipient(ctx, caller, token, common.HexToAddress(p.Sender), secret, escrow.Timestamp(p.Timeout))
	}
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

func (s *Server) escrowTimeoutValue(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doTimeoutValue(ctx, params, false)
}

func (s *Server) escrowTimeoutValueProxy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doTimeoutValue(ctx, params, true)
}

func (s *Server) doTimeoutValue(ctx context.Context, params json.RawMessage, proxy bool) (interface{}, error) {
	var p lockResolutionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.Secret)
	if err != nil {
		return nil, err
	}
	caller := s.callerPrincipal(ctx)

	var id escrow.Digest
	if proxy {
		id, err = s.engine.TimeoutValueProxy(ctx, caller, common.HexToAddress(p.Account), token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout))
	} else {
		id, err = s.engine.TimeoutValue(ctx, caller, token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout))
	}
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

type timeoutStashParams struct {
	lockResolutionParams
	StashAssetId string `json:"stash_asset_id"`
}

func (s *Server) escrowTimeoutStash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doTimeoutStash(ctx, params, false)
}

func (s *Server) escrowTimeoutStashProxy(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.doTimeoutStash(ctx, params, true)
}

func (s *Server) doTimeoutStash(ctx context.Context, params json.RawMessage, proxy bool) (interface{}, error) {
	var p timeoutStashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	hashedSecret, err := parseDigestField("hashed_secret", p.Secret)
	if err != nil {
		return nil, err
	}
	stashAssetId, err := parseAssetTagField("stash_asset_id", p.StashAssetId)
	if err != nil {
		return nil, err
	}
	caller := s.callerPrincipal(ctx)

	var id escrow.Digest
	if proxy {
		id, err = s.engine.TimeoutStashProxy(ctx, caller, common.HexToAddress(p.Account), token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout), stashAssetId)
	} else {
		id, err = s.engine.TimeoutStash(ctx, caller, token, common.HexToAddress(p.Recipient), hashedSecret, escrow.Timestamp(p.Timeout), stashAssetId)
	}
	if err != nil {
		return nil, err
	}
	return lockIdResult{LockId: hex.EncodeToString(id[:])}, nil
}

// --- stash management ---

type stashParams struct {
	Token   string `json:"token"`
	AssetId string `json:"asset_id"`
	Amount  string `json:"amount,omitempty"`
}

func (s *Server) escrowDepositStash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p stashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	assetId, err := parseAssetTagField("asset_id", p.AssetId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountField("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.DepositStash(ctx, s.callerPrincipal(ctx), token, assetId, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) escrowWithdrawStash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p stashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	assetId, err := parseAssetTagField("asset_id", p.AssetId)
	if err != nil {
		return nil, err
	}
	var amount *escrow.Amount
	if p.Amount != "" {
		if amount, err = parseAmountField("amount", p.Amount); err != nil {
			return nil, err
		}
	}
	if err := s.engine.WithdrawStash(ctx, s.callerPrincipal(ctx), token, assetId, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type moveStashParams struct {
	Token       string `json:"token"`
	FromAssetId string `json:"from_asset_id"`
	ToAssetId   string `json:"to_asset_id"`
	Amount      string `json:"amount"`
}

func (s *Server) escrowMoveStash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p moveStashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	fromAssetId, err := parseAssetTagField("from_asset_id", p.FromAssetId)
	if err != nil {
		return nil, err
	}
	toAssetId, err := parseAssetTagField("to_asset_id", p.ToAssetId)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountField("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.MoveStash(ctx, s.callerPrincipal(ctx), token, fromAssetId, toAssetId, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// --- read surface ---

type stashWire struct {
	Owner   string `json:"owner"`
	Value   string `json:"value"`
	AssetId string `json:"asset_id"`
}

func (s *Server) escrowGetStash(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p stashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	assetId, err := parseAssetTagField("asset_id", p.AssetId)
	if err != nil {
		return nil, err
	}
	value := s.stashes.ValueOf(token, assetId, s.callerPrincipal(ctx))
	return stashWire{Owner: s.callerPrincipal(ctx).Hex(), Value: value.Dec(), AssetId: p.AssetId}, nil
}

type listStashesParams struct {
	Token   string `json:"token"`
	AssetId string `json:"asset_id"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) escrowListStashes(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p listStashesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	token, err := assets.ParseToken(p.Token)
	if err != nil {
		return nil, err
	}
	assetId, err := parseAssetTagField("asset_id", p.AssetId)
	if err != nil {
		return nil, err
	}
	list := s.stashes.List(token, assetId, p.Limit)
	out := make([]stashWire, len(list))
	for i, st := range list {
		out[i] = stashWire{Owner: st.Owner.Hex(), Value: st.Value.Dec(), AssetId: p.AssetId}
	}
	return out, nil
}

type getLockParams struct {
	LockId string `json:"lock_id"`
}

type lockWire struct {
	Token        string `json:"token"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashed_secret"`
	Timeout      uint64 `json:"timeout"`
	AssetId      string `json:"asset_id"`
	Value        string `json:"value"`
	FromStash    bool   `json:"from_stash"`
}

func (s *Server) escrowGetLock(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getLockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := parseDigestField("lock_id", p.LockId)
	if err != nil {
		return nil, err
	}
	lock, err := s.locks.Peek(id)
	if err != nil {
		return nil, err
	}
	return lockWire{
		Token:        lock.Token.Hex(),
		Sender:       lock.Sender.Hex(),
		Recipient:    lock.Recipient.Hex(),
		HashedSecret: hex.EncodeToString(lock.HashedSecret[:]),
		Timeout:      uint64(lock.Timeout),
		AssetId:      hex.EncodeToString(lock.AssetId[:]),
		Value:        lock.Value.Dec(),
		FromStash:    lock.FromStash,
	}, nil
}

type assetWire struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Token    string `json:"token"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) escrowListAssets(ctx context.Context, params json.RawMessage) (interface{}, error) {
	out := make([]assetWire, 0, len(s.registry.List()))
	for _, e := range s.registry.List() {
		out = append(out, assetWire{Symbol: e.Symbol, Name: e.Name, Token: e.Token.Hex(), Decimals: e.Decimals})
	}
	return out, nil
}
