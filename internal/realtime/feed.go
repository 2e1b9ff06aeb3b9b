// Package realtime turns committed writes into live-query notifications for connected sessions.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

// Change describes one document change in a collection.
type Change struct {
	Collection string            `json:"collection"`
	Type       models.ChangeType `json:"type"`
	DocID      string            `json:"docId"`
	Owner      string            `json:"owner,omitempty"`
	Data       json.RawMessage   `json:"data,omitempty"`
}

// NewChange encodes doc as the change payload. owner is the email of the guardian the document belongs to.
func NewChange(collection string, changeType models.ChangeType, docID, owner string, doc interface{}) (Change, error) {
	change := Change{Collection: collection, Type: changeType, DocID: docID, Owner: owner}
	if doc != nil {
		payload, err := json.Marshal(doc)
		if err != nil {
			return Change{}, fmt.Errorf("encode %s change: %w", collection, err)
		}
		change.Data = payload
	}
	return change, nil
}

// Decode unmarshals the change payload into dest.
func (c Change) Decode(dest interface{}) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("change %s/%s has no payload", c.Collection, c.DocID)
	}
	return json.Unmarshal(c.Data, dest)
}

// Filter selects the changes a subscription receives.
type Filter func(Change) bool

// Handler consumes changes for a subscription.
type Handler func(Change)

// Collection returns a filter matching a single collection.
func Collection(name string) Filter {
	return func(c Change) bool { return c.Collection == name }
}

// OwnedBy returns a filter matching one collection for one owner.
func OwnedBy(name, owner string) Filter {
	return func(c Change) bool { return c.Collection == name && c.Owner == owner }
}

// Relay carries changes between API instances.
type Relay interface {
	Publish(ctx context.Context, change Change) error
	Run(ctx context.Context, deliver func(Change)) error
}

// Feed fans committed changes out to subscriptions. Each subscription receives its
// changes in publish order on its own goroutine; there is no ordering across subscriptions.
type Feed struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	relay      Relay
	logger     *zap.Logger
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithRelay routes published changes through relay. Local subscribers then only see
// changes once the relay delivers them back, so every instance observes the same stream.
func WithRelay(relay Relay) FeedOption {
	return func(f *Feed) {
		f.relay = relay
	}
}

// WithBufferSize sets the initial queue capacity of each subscription.
func WithBufferSize(size int) FeedOption {
	return func(f *Feed) {
		if size > 0 {
			f.bufferSize = size
		}
	}
}

// NewFeed constructs an in-process feed.
func NewFeed(logger *zap.Logger, opts ...FeedOption) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := &Feed{subs: make(map[uint64]*Subscription), bufferSize: 64, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(feed)
		}
	}
	return feed
}

// Run consumes the relay until ctx is cancelled. Without a relay it returns immediately.
func (f *Feed) Run(ctx context.Context) error {
	if f.relay == nil {
		return nil
	}
	return f.relay.Run(ctx, f.dispatch)
}

// Publish announces changes that have been committed.
func (f *Feed) Publish(ctx context.Context, changes ...Change) error {
	if f == nil {
		return nil
	}
	for _, change := range changes {
		if f.relay != nil {
			if err := f.relay.Publish(ctx, change); err != nil {
				return fmt.Errorf("relay %s change: %w", change.Collection, err)
			}
			continue
		}
		f.dispatch(change)
	}
	return nil
}

// Subscribe registers handler for changes accepted by filter. A nil filter accepts everything.
func (f *Feed) Subscribe(filter Filter, handler Handler) *Subscription {
	sub := &Subscription{
		feed:    f,
		filter:  filter,
		handler: handler,
		pending: make([]Change, 0, f.bufferSize),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  f.logger,
	}
	f.mu.Lock()
	f.nextID++
	sub.id = f.nextID
	f.subs[sub.id] = sub
	f.mu.Unlock()

	go sub.loop()
	return sub
}

// Subscribers reports the number of open subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Feed) dispatch(change Change) {
	f.mu.RLock()
	targets := make([]*Subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.filter == nil || sub.filter(change) {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(change)
	}
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
}

// Subscription is a live registration on a Feed.
type Subscription struct {
	id      uint64
	feed    *Feed
	filter  Filter
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	pending []Change
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Close stops future deliveries. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s.id)
		close(s.done)
	})
}

func (s *Subscription) enqueue(change Change) {
	s.mu.Lock()
	s.pending = append(s.pending, change)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = make([]Change, 0, len(batch))
		s.mu.Unlock()

		for _, change := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(change)
		}
	}
}

func (s *Subscription) deliver(change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("realtime handler panicked", zap.String("collection", change.Collection), zap.Any("panic", r))
		}
	}()
	s.handler(change)
}
