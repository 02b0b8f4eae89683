package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/acuity-social/swaplock/internal/escrow"
	"github.com/acuity-social/swaplock/pkg/logging"
)

// StashGossipTopic is the single PubSub topic stash-liquidity adverts
// travel over. There is no per-pair sharding: adverts are small and
// infrequent enough that one topic keeps the fanout logic simple.
const StashGossipTopic = "/swaplock/stash-gossip/1.0.0"

// StashAdvert is the wire form of a local stash change, broadcast to
// every peer subscribed to StashGossipTopic so remote nodes can route
// swaps toward liquidity they don't hold themselves.
type StashAdvert struct {
	Kind    string `json:"kind"` // "add" or "remove"
	Token   string `json:"token"`
	AssetId string `json:"asset_id"`
	Owner   string `json:"owner"`
	Value   string `json:"value"`

	FromPeer string `json:"from_peer"`
}

// RemoteStash is one peer's most recently advertised balance for a given
// (token, asset, owner) triple.
type RemoteStash struct {
	Peer  string
	Owner string
	Value string
}

type stashGossipKey struct {
	token, asset, owner, peer string
}

// StashGossipHandler joins StashGossipTopic, publishes local stash
// changes to it, and keeps a read-only, best-effort view of what peers
// have advertised. It does not reconcile conflicting adverts beyond
// last-write-wins per (token, asset, owner, peer); nothing here commits
// funds, so there is no consistency requirement beyond that.
type StashGossipHandler struct {
	node  *Node
	log   *logging.Logger
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	mu     sync.RWMutex
	remote map[stashGossipKey]RemoteStash

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStashGossipHandler creates a handler bound to n. Call Start to join
// the topic and begin receiving adverts.
func NewStashGossipHandler(n *Node) (*StashGossipHandler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &StashGossipHandler{
		node:   n,
		log:    logging.GetDefault().Component("stash-gossip"),
		remote: make(map[stashGossipKey]RemoteStash),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start joins the gossip topic and launches the receive loop.
func (h *StashGossipHandler) Start() error {
	if h.node.pubsub == nil {
		return fmt.Errorf("pubsub not initialized")
	}

	topic, err := h.node.pubsub.Join(StashGossipTopic)
	if err != nil {
		return fmt.Errorf("join stash gossip topic: %w", err)
	}
	h.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe to stash gossip topic: %w", err)
	}
	h.sub = sub

	go h.receiveLoop()
	h.log.Info("Stash gossip handler started", "topic", StashGossipTopic)
	return nil
}

// Stop leaves the topic and ends the receive loop.
func (h *StashGossipHandler) Stop() {
	h.cancel()
	if h.sub != nil {
		h.sub.Cancel()
	}
	if h.topic != nil {
		h.topic.Close()
	}
}

// Broadcast publishes advert to every subscribed peer. The FromPeer
// field is stamped with this node's own ID, overwriting whatever the
// caller set.
func (h *StashGossipHandler) Broadcast(ctx context.Context, advert StashAdvert) error {
	if h.topic == nil {
		return fmt.Errorf("not joined to stash gossip topic")
	}
	advert.FromPeer = h.node.ID().String()

	data, err := json.Marshal(advert)
	if err != nil {
		return fmt.Errorf("marshal stash advert: %w", err)
	}
	return h.topic.Publish(ctx, data)
}

func (h *StashGossipHandler) receiveLoop() {
	for {
		msg, err := h.sub.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.log.Warn("stash gossip receive error", "error", err)
			continue
		}
		if msg.ReceivedFrom == h.node.ID() {
			continue
		}

		var advert StashAdvert
		if err := json.Unmarshal(msg.Data, &advert); err != nil {
			h.log.Warn("failed to parse stash advert", "peer", shortID(msg.ReceivedFrom), "error", err)
			continue
		}
		h.applyRemote(advert)
	}
}

func (h *StashGossipHandler) applyRemote(advert StashAdvert) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := stashGossipKey{token: advert.Token, asset: advert.AssetId, owner: advert.Owner, peer: advert.FromPeer}

	if advert.Kind == "remove" || advert.Value == "" || advert.Value == "0" {
		delete(h.remote, key)
		return
	}
	h.remote[key] = RemoteStash{Peer: advert.FromPeer, Owner: advert.Owner, Value: advert.Value}
}

// Remote returns every advertised balance peers have broadcast for the
// given (token, asset) pair, across all owners and peers.
func (h *StashGossipHandler) Remote(token, assetId string) []RemoteStash {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]RemoteStash, 0)
	for k, v := range h.remote {
		if k.token == token && k.asset == assetId {
			result = append(result, v)
		}
	}
	return result
}

// EscrowSink adapts the handler to escrow.EventSink: StashAdd and
// StashRemove events are broadcast to the gossip topic; every other
// event kind is ignored, since only stash balances are meaningful to
// peers routing liquidity.
func (h *StashGossipHandler) EscrowSink() escrow.EventSink {
	return escrow.EventSinkFunc(func(e escrow.Event) {
		var kind string
		switch e.Kind {
		case escrow.EventStashAdd:
			kind = "add"
		case escrow.EventStashRemove:
			kind = "remove"
		default:
			return
		}

		value := "0"
		if e.Amount != nil {
			value = e.Amount.Dec()
		}

		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		defer cancel()

		advert := StashAdvert{
			Kind:    kind,
			Token:   fmt.Sprintf("%x", e.Token),
			AssetId: fmt.Sprintf("%x", e.AssetId),
			Owner:   fmt.Sprintf("%x", e.Account),
			Value:   value,
		}
		if err := h.Broadcast(ctx, advert); err != nil {
			h.log.Warn("failed to broadcast stash advert", "kind", kind, "error", err)
		}
	})
}
