package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pollrooms/backend/internal/models"
	"github.com/pollrooms/backend/internal/store"
)

// fakeSnapshots serves canned snapshots and counts builds per poll.
type fakeSnapshots struct {
	snaps  map[string]*models.PollSnapshot
	builds map[string]int
}

func newFakeSnapshots(pollIDs ...string) *fakeSnapshots {
	f := &fakeSnapshots{
		snaps:  make(map[string]*models.PollSnapshot),
		builds: make(map[string]int),
	}
	for _, id := range pollIDs {
		f.snaps[id] = &models.PollSnapshot{
			ID:       id,
			Question: "question for " + id,
			Options:  []models.OptionCount{{ID: id + "-opt", Label: "Yes", Votes: 0}},
		}
	}
	return f
}

func (f *fakeSnapshots) BuildSnapshot(_ context.Context, pollID string) (*models.PollSnapshot, error) {
	snap, ok := f.snaps[pollID]
	if !ok {
		return nil, store.ErrPollNotFound
	}
	f.builds[pollID]++
	cp := *snap
	return &cp, nil
}

func (f *fakeSnapshots) bumpVotes(pollID string, total int) {
	f.snaps[pollID].TotalVotes = total
}

func TestSubscribeUnknownPoll(t *testing.T) {
	hub := NewHub(newFakeSnapshots(), nil)

	_, _, err := hub.Subscribe(context.Background(), "missing")

	require.ErrorIs(t, err, store.ErrPollNotFound)
	require.Zero(t, hub.SubscriberCount("missing"))
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	hub := NewHub(newFakeSnapshots("p1"), nil)

	sub, first, err := hub.Subscribe(context.Background(), "p1")

	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "p1", first.ID)
	require.Equal(t, 1, hub.SubscriberCount("p1"))
	// initial snapshot is handed back synchronously, not queued
	require.Empty(t, sub.Updates())
}

// gatedSnapshots parks the first build until released, widening the
// window between mailbox registration and the initial snapshot read.
type gatedSnapshots struct {
	inner   *fakeSnapshots
	mu      sync.Mutex
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSnapshots) BuildSnapshot(ctx context.Context, pollID string) (*models.PollSnapshot, error) {
	g.mu.Lock()
	first := !g.gated
	g.gated = true
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return g.inner.BuildSnapshot(ctx, pollID)
}

func TestSubscribeQueuesVoteConcurrentWithInitialSnapshot(t *testing.T) {
	snaps := newFakeSnapshots("p1")
	gate := &gatedSnapshots{inner: snaps, entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(gate, nil)

	type result struct {
		sub   *Subscription
		first *models.PollSnapshot
		err   error
	}
	done := make(chan result, 1)
	go func() {
		sub, first, err := hub.Subscribe(context.Background(), "p1")
		done <- result{sub, first, err}
	}()

	// the subscriber is registered and mid-way through its initial
	// snapshot read when a vote lands
	<-gate.entered
	require.Equal(t, 1, hub.SubscriberCount("p1"))
	snaps.bumpVotes("p1", 1)
	hub.Notify("p1")
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.first)
	select {
	case snap := <-res.sub.Updates():
		require.Equal(t, 1, snap.TotalVotes)
	case <-time.After(time.Second):
		t.Fatal("vote broadcast during subscribe was not queued")
	}
	hub.Unsubscribe(res.sub)
}

func TestNotifyFansOutToPollSubscribersOnly(t *testing.T) {
	snaps := newFakeSnapshots("p1", "p2")
	hub := NewHub(snaps, nil)
	sub1, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)
	sub2, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)
	other, _, err := hub.Subscribe(context.Background(), "p2")
	require.NoError(t, err)

	snaps.bumpVotes("p1", 1)
	hub.Notify("p1")

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case snap := <-sub.Updates():
			require.Equal(t, "p1", snap.ID)
			require.Equal(t, 1, snap.TotalVotes)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the broadcast")
		}
	}
	require.Empty(t, other.Updates())
}

func TestNotifyBuildsOneSnapshotPerBroadcast(t *testing.T) {
	snaps := newFakeSnapshots("p1")
	hub := NewHub(snaps, nil)
	for i := 0; i < 3; i++ {
		_, _, err := hub.Subscribe(context.Background(), "p1")
		require.NoError(t, err)
	}
	builds := snaps.builds["p1"]

	hub.Notify("p1")

	require.Equal(t, builds+1, snaps.builds["p1"])
}

func TestNotifyUnknownPollIsNoop(t *testing.T) {
	hub := NewHub(newFakeSnapshots("p1"), nil)
	sub, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)

	hub.Notify("missing")

	require.Empty(t, sub.Updates())
	require.Equal(t, 1, hub.SubscriberCount("p1"))
}

func TestNotifyPrunesOverflowedSubscriber(t *testing.T) {
	snaps := newFakeSnapshots("p1")
	hub := NewHub(snaps, nil)
	slow, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)
	fast, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)

	// the slow subscriber never drains; the fast one keeps up
	for i := 0; i < MailboxSize+1; i++ {
		hub.Notify("p1")
		select {
		case <-fast.Updates():
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}

	require.Equal(t, 1, hub.SubscriberCount("p1"))

	received := 0
	for range slow.Updates() {
		received++
	}
	// channel is closed after the drop; only the buffered messages arrive
	require.Equal(t, MailboxSize, received)

	// co-subscriber still receives later broadcasts
	hub.Notify("p1")
	select {
	case <-fast.Updates():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber lost its registration")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(newFakeSnapshots("p1"), nil)
	sub, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)

	require.Zero(t, hub.SubscriberCount("p1"))
	_, open := <-sub.Updates()
	require.False(t, open)
}

func TestNotifyAfterUnsubscribeDeliversNothing(t *testing.T) {
	snaps := newFakeSnapshots("p1")
	hub := NewHub(snaps, nil)
	sub, _, err := hub.Subscribe(context.Background(), "p1")
	require.NoError(t, err)
	hub.Unsubscribe(sub)

	hub.Notify("p1")

	_, open := <-sub.Updates()
	require.False(t, open)
}
