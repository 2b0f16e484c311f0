package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Subscription receives the events of the kinds it subscribed to.
type Subscription struct {
	id    uint64
	kinds map[types.EventKind]bool
	// C is closed when the subscription is cancelled or the bus stops
	C  <-chan types.Event
	ch chan types.Event

	dropped atomic.Uint64
}

// Dropped returns the number of events lost because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(kind types.EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// LocalBus is an in-process channel bus. Publishing never blocks: events
// are dropped when the bus or a subscriber is full.
type LocalBus struct {
	publishCh   chan types.Event
	channelSize int

	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	running atomic.Bool

	stats struct {
		published atomic.Uint64
		delivered atomic.Uint64
		dropped   atomic.Uint64
	}

	metrics *Metrics
}

// NewLocalBus creates a bus. Run must be called to start delivery.
func NewLocalBus(publishBufferSize, subscribeBufferSize int, metrics *Metrics) *LocalBus {
	if publishBufferSize <= 0 {
		publishBufferSize = 1
	}
	if subscribeBufferSize <= 0 {
		subscribeBufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		publishCh:   make(chan types.Event, publishBufferSize),
		channelSize: subscribeBufferSize,
		subscribers: make(map[uint64]*Subscription),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		metrics:     metrics,
	}
}

// Name implements Publisher.
func (b *LocalBus) Name() string { return "local" }

// Run delivers published events until Stop is called.
func (b *LocalBus) Run() {
	if b.running.Swap(true) {
		return
	}
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.closeAll()
			return
		case event := <-b.publishCh:
			b.broadcast(event)
		}
	}
}

func (b *LocalBus) broadcast(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.wants(event.Kind) {
			continue
		}
		select {
		case sub.ch <- event:
			b.stats.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			b.stats.dropped.Add(1)
			b.metrics.RecordDropped(event.Kind)
		}
	}
}

// Publish implements Notifier.
func (b *LocalBus) Publish(_ context.Context, event types.Event) error {
	select {
	case <-b.ctx.Done():
		return ErrPublishFailed
	default:
	}
	select {
	case b.publishCh <- event:
		b.stats.published.Add(1)
		return nil
	default:
		b.stats.dropped.Add(1)
		b.metrics.RecordDropped(event.Kind)
		return ErrPublishFailed
	}
}

// Subscribe registers a subscriber for kinds, or for every kind when none
// is given. It returns nil once the bus is stopped.
func (b *LocalBus) Subscribe(kinds ...types.EventKind) *Subscription {
	select {
	case <-b.ctx.Done():
		return nil
	default:
	}

	ch := make(chan types.Event, b.channelSize)
	sub := &Subscription{kinds: make(map[types.EventKind]bool, len(kinds)), C: ch, ch: ch}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *LocalBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
		close(sub.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
}

func (b *LocalBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.metrics.SetSubscribers(0)
}

// Stop stops delivery and closes every subscription.
func (b *LocalBus) Stop() {
	b.once.Do(b.cancel)
	if b.running.Load() {
		<-b.done
		return
	}
	b.closeAll()
}

// Close implements Publisher.
func (b *LocalBus) Close() error {
	b.Stop()
	return nil
}

// SubscriberCount returns the current number of subscribers.
func (b *LocalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns the published, delivered and dropped counters.
func (b *LocalBus) Stats() (published, delivered, dropped uint64) {
	return b.stats.published.Load(), b.stats.delivered.Load(), b.stats.dropped.Load()
}
