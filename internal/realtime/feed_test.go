package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

func collect(t *testing.T, n int) (Handler, func() []Change) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []Change
	)
	handler := func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}
	wait := func() []Change {
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) >= n
		}, time.Second, 5*time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return append([]Change(nil), got...)
	}
	return handler, wait
}

func TestFeedDeliversInPublishOrder(t *testing.T) {
	feed := NewFeed(nil)
	handler, wait := collect(t, 3)
	sub := feed.Subscribe(Collection(models.CollectionChangeRequests), handler)
	defer sub.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, feed.Publish(context.Background(), Change{Collection: models.CollectionChangeRequests, Type: models.ChangeAdded, DocID: id}))
	}
	require.NoError(t, feed.Publish(context.Background(), Change{Collection: models.CollectionUsers, DocID: "ignored"}))

	got := wait()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].DocID)
	assert.Equal(t, "b", got[1].DocID)
	assert.Equal(t, "c", got[2].DocID)
}

func TestFeedOwnerFilter(t *testing.T) {
	feed := NewFeed(nil)
	handler, wait := collect(t, 1)
	sub := feed.Subscribe(OwnedBy(models.CollectionUsers, "a@example.com"), handler)
	defer sub.Close()

	require.NoError(t, feed.Publish(context.Background(),
		Change{Collection: models.CollectionUsers, DocID: "1", Owner: "b@example.com"},
		Change{Collection: models.CollectionUsers, DocID: "2", Owner: "a@example.com"},
	))
	got := wait()
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].DocID)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	feed := NewFeed(nil)
	delivered := make(chan Change, 4)
	sub := feed.Subscribe(nil, func(c Change) { delivered <- c })
	sub.Close()
	sub.Close()

	require.NoError(t, feed.Publish(context.Background(), Change{Collection: models.CollectionUsers, DocID: "1"}))
	assert.Equal(t, 0, feed.Subscribers())
	select {
	case <-delivered:
		t.Fatal("closed subscription received a change")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotStopSubscription(t *testing.T) {
	feed := NewFeed(nil)
	handler, wait := collect(t, 1)
	calls := 0
	sub := feed.Subscribe(nil, func(c Change) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		handler(c)
	})
	defer sub.Close()

	require.NoError(t, feed.Publish(context.Background(), Change{DocID: "1"}, Change{DocID: "2"}))
	got := wait()
	assert.Equal(t, "2", got[0].DocID)
}

type loopbackRelay struct {
	mu        sync.Mutex
	published []Change
	deliver   func(Change)
	ready     chan struct{}
}

func (r *loopbackRelay) Publish(ctx context.Context, change Change) error {
	r.mu.Lock()
	r.published = append(r.published, change)
	deliver := r.deliver
	r.mu.Unlock()
	if deliver != nil {
		deliver(change)
	}
	return nil
}

func (r *loopbackRelay) Run(ctx context.Context, deliver func(Change)) error {
	r.mu.Lock()
	r.deliver = deliver
	r.mu.Unlock()
	close(r.ready)
	<-ctx.Done()
	return nil
}

func TestFeedRelayRoutesThroughRelay(t *testing.T) {
	relay := &loopbackRelay{ready: make(chan struct{})}
	feed := NewFeed(nil, WithRelay(relay), WithBufferSize(8))
	handler, wait := collect(t, 1)
	sub := feed.Subscribe(nil, handler)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()
	<-relay.ready

	require.NoError(t, feed.Publish(context.Background(), Change{Collection: models.CollectionUsers, DocID: "1"}))
	got := wait()
	assert.Equal(t, "1", got[0].DocID)
	relay.mu.Lock()
	assert.Len(t, relay.published, 1)
	relay.mu.Unlock()
}

func TestNewChangeEncodesDocument(t *testing.T) {
	change, err := NewChange(models.CollectionAdmissionForms, models.ChangeModified, "f-1", "p@example.com", models.AdmissionForm{ID: "f-1", Status: models.StatusApproved})
	require.NoError(t, err)

	var form models.AdmissionForm
	require.NoError(t, change.Decode(&form))
	assert.Equal(t, models.StatusApproved, form.Status)
	assert.Equal(t, "p@example.com", change.Owner)
}
