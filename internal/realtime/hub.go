// Package realtime fans poll snapshots out to live-update sessions.
// The hub owns all subscriber state for the process; sessions (SSE or
// WebSocket) only ever touch it through Subscribe and Unsubscribe.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollrooms/backend/internal/models"
)

// MailboxSize is the per-subscriber buffer. A subscriber whose mailbox
// is full when a snapshot is fanned out is judged dead and removed.
const MailboxSize = 10

// Snapshots builds a consistent point-in-time view of a poll.
type Snapshots interface {
	BuildSnapshot(ctx context.Context, pollID string) (*models.PollSnapshot, error)
}

// Subscription is one live-update mailbox registered with the hub.
type Subscription struct {
	id     string
	pollID string
	ch     chan *models.PollSnapshot
}

// PollID returns the poll this subscription is registered for.
func (s *Subscription) PollID() string { return s.pollID }

// Updates returns the mailbox channel. The channel is closed when the
// hub removes the subscription; a session treats that as termination.
func (s *Subscription) Updates() <-chan *models.PollSnapshot { return s.ch }

// Hub maintains pollID -> set of subscriptions and broadcasts snapshots.
// Registration, fanout, and removal all hold the same mutex, so no
// fanout can interleave with a removal for the same poll.
type Hub struct {
	mu        sync.Mutex
	polls     map[string]map[string]*Subscription
	snapshots Snapshots
	logger    *zap.Logger
}

// NewHub creates a hub that builds snapshots through the given source.
func NewHub(snapshots Snapshots, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		polls:     make(map[string]map[string]*Subscription),
		snapshots: snapshots,
		logger:    logger,
	}
}

// Subscribe registers a new mailbox for a poll and returns it together
// with a synchronously built initial snapshot, so the session can send
// the current state before any vote arrives. The mailbox is registered
// before the snapshot is read: a vote broadcast concurrent with
// subscribing lands in the already-registered mailbox instead of being
// lost. Returns the snapshot source's error (store.ErrPollNotFound
// included) when the poll cannot be read, removing the registration.
func (h *Hub) Subscribe(ctx context.Context, pollID string) (*Subscription, *models.PollSnapshot, error) {
	sub := &Subscription{
		id:     uuid.New().String(),
		pollID: pollID,
		ch:     make(chan *models.PollSnapshot, MailboxSize),
	}
	h.mu.Lock()
	if h.polls[pollID] == nil {
		h.polls[pollID] = make(map[string]*Subscription)
	}
	h.polls[pollID][sub.id] = sub
	h.mu.Unlock()

	snap, err := h.snapshots.BuildSnapshot(ctx, pollID)
	if err != nil {
		h.Unsubscribe(sub)
		return nil, nil, err
	}

	h.logger.Debug("subscriber joined", zap.String("poll_id", pollID), zap.String("sub_id", sub.id))
	return sub, snap, nil
}

// Notify builds one fresh snapshot and enqueues it to every live mailbox
// for the poll. Enqueue never blocks: a full mailbox drops the message,
// and its subscription is removed and closed in the same pass, so one
// slow subscriber cannot stall the others or the vote path.
func (h *Hub) Notify(pollID string) {
	snap, err := h.snapshots.BuildSnapshot(context.Background(), pollID)
	if err != nil {
		h.logger.Warn("snapshot build failed, broadcast skipped", zap.String("poll_id", pollID), zap.Error(err))
		return
	}

	var dropped int
	h.mu.Lock()
	subs := h.polls[pollID]
	for id, sub := range subs {
		select {
		case sub.ch <- snap:
		default:
			delete(subs, id)
			close(sub.ch)
			dropped++
		}
	}
	if len(subs) == 0 {
		delete(h.polls, pollID)
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.logger.Debug("dead subscribers pruned", zap.String("poll_id", pollID), zap.Int("count", dropped))
	}
}

// Unsubscribe removes a subscription and closes its mailbox. Idempotent;
// safe to call after the hub has already pruned the subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	subs := h.polls[sub.pollID]
	if _, ok := subs[sub.id]; ok {
		delete(subs, sub.id)
		close(sub.ch)
		if len(subs) == 0 {
			delete(h.polls, sub.pollID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("subscriber left", zap.String("poll_id", sub.pollID), zap.String("sub_id", sub.id))
}

// SubscriberCount returns the number of live subscriptions for a poll.
func (h *Hub) SubscriberCount(pollID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.polls[pollID])
}
