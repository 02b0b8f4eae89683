package escrow

// EventKind discriminates the event envelope below. Every SwapEngine
// operation that commits successfully emits exactly one event (moveStash
// emits two), after all LockStore/StashBook/TokenLedger effects have
// already landed — an event is a committed fact, never a pending one.
type EventKind string

const (
	EventBuyLock            EventKind = "BuyLock"
	EventSellLock           EventKind = "SellLock"
	EventDeclineByRecipient EventKind = "DeclineByRecipient"
	EventUnlockBySender     EventKind = "UnlockBySender"
	EventUnlockByRecipient  EventKind = "UnlockByRecipient"
	EventTimeout            EventKind = "Timeout"
	EventStashAdd           EventKind = "StashAdd"
	EventStashRemove        EventKind = "StashRemove"
)

// Event is a single flat envelope shared by every event kind; a given kind
// only populates the fields relevant to it. This mirrors the notification
// envelopes the RPC layer already pushes to WebSocket subscribers, so
// nothing downstream needs a type switch over eight distinct structs.
type Event struct {
	Kind         EventKind
	Token        TokenId
	Sender       Principal
	Recipient    Principal
	HashedSecret Digest
	Timeout      Timestamp
	Amount       *Amount
	LockId       Digest

	// lockBuy-only
	SellAssetId AssetTag
	SellPrice   *Amount

	// lockSell-only
	BuyAssetId AssetTag
	BuyLockId  Digest

	// unlock*-only: the revealed preimage
	Secret []byte

	// stash events
	Account Principal
	AssetId AssetTag
}

// EventSink receives every event a SwapEngine commits. Implementations are
// expected to be fast and non-blocking (append to a durable log, push to a
// channel) — Emit runs synchronously inside the operation that produced the
// event, after that operation's state changes are already final.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(e Event) { f(e) }

// NopEventSink discards every event; useful as a default for callers that
// don't care about notifications (most tests).
type NopEventSink struct{}

// Emit implements EventSink.
func (NopEventSink) Emit(Event) {}

// MultiSink fans a single Emit out to every sink it wraps, in order — used
// to feed the same commit to the durable event log, the WebSocket hub, and
// the gossip publisher without SwapEngine knowing about any of them
// individually.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
