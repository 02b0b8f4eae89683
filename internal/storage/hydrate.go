package storage

import (
	"github.com/acuity-social/swaplock/internal/escrow"
	"github.com/acuity-social/swaplock/pkg/logging"
)

// HydrateLockStore rebuilds a LockStore from every durable lock record,
// for use while bringing up a SwapEngine after a restart.
func (s *Storage) HydrateLockStore() (*escrow.LockStore, error) {
	records, err := s.ListLocks()
	if err != nil {
		return nil, err
	}
	store := escrow.NewLockStore()
	for _, rec := range records {
		store.Hydrate(rec.LockId, &escrow.Lock{
			Token:        rec.Token,
			Sender:       rec.Sender,
			Recipient:    rec.Recipient,
			HashedSecret: rec.HashedSecret,
			Timeout:      rec.Timeout,
			AssetId:      rec.AssetId,
			Value:        rec.Value,
			FromStash:    rec.FromStash,
		})
	}
	return store, nil
}

// HydrateStashBook rebuilds a StashBook from every durable stash record.
func (s *Storage) HydrateStashBook() (*escrow.StashBook, error) {
	records, err := s.ListStashes()
	if err != nil {
		return nil, err
	}
	book := escrow.NewStashBook()
	for _, rec := range records {
		book.Hydrate(rec.Token, rec.AssetId, rec.Owner, rec.Value)
	}
	return book, nil
}

// EventSink adapts Storage.AppendEvent to escrow.EventSink, persisting every
// emitted event to the append-only log before (optionally) forwarding it to
// another sink such as a websocket hub.
type EventSink struct {
	store *Storage
	next  escrow.EventSink
	log   *logging.Logger
}

// NewEventSink returns an escrow.EventSink that durably records every event
// before passing it on to next. next may be escrow.NopEventSink{} when
// nothing downstream needs live delivery.
func NewEventSink(store *Storage, next escrow.EventSink) *EventSink {
	if next == nil {
		next = escrow.NopEventSink{}
	}
	return &EventSink{store: store, next: next, log: logging.Component("storage")}
}

// Emit implements escrow.EventSink. A persistence failure is logged and
// swallowed rather than propagated, since EventSink.Emit has no error
// return — the engine operation that produced the event has already
// committed its in-memory state by the time Emit runs.
func (s *EventSink) Emit(e escrow.Event) {
	if err := s.store.AppendEvent(e); err != nil {
		s.log.Error("failed to persist escrow event", "kind", e.Kind, "err", err)
	}
	s.next.Emit(e)
}
