package eventledger

import (
	"sync/atomic"

	"github.com/algorand/go-deadlock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the number of undelivered entries a subscriber
// may fall behind by before it is dropped.
const DefaultSubscriberBuffer = 64

// Subscription is a handle on a live feed of newly appended entries. Entries
// arrive on C in append order, each exactly once. C is closed when the
// subscription is closed, dropped for falling behind, or the Notifier shuts
// down.
type Subscription struct {
	id      uuid.UUID
	ch      chan Entry
	dropped atomic.Bool
	closed  bool // guarded by the owning Notifier's mu
	n       *Notifier
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uuid.UUID { return s.id }

// C returns the channel entries are delivered on.
func (s *Subscription) C() <-chan Entry { return s.ch }

// Dropped reports whether the subscription was disconnected because its
// buffer filled up.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.n.Unsubscribe(s) }

// Notifier fans each published entry out to every registered subscriber.
// Delivery never blocks: each subscriber has a bounded buffer and a
// subscriber whose buffer is full is dropped.
//
// When sequencing is enabled (see Ledger), entries published out of index
// order are held back until their predecessors have been delivered, so
// subscribers always observe append order even though publishing happens
// outside the append lock.
type Notifier struct {
	mu      deadlock.Mutex
	subs    map[uuid.UUID]*Subscription
	bufSize int
	closed  bool

	sequenced bool
	next      int
	pending   map[int]Entry

	onActive func(active int)
	onDrop   func()
	logger   *zap.Logger
}

// NewNotifier creates a Notifier whose subscribers buffer up to bufSize
// entries. A non-positive bufSize selects DefaultSubscriberBuffer.
func NewNotifier(bufSize int, logger *zap.Logger) *Notifier {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Notifier{
		subs:    make(map[uuid.UUID]*Subscription),
		bufSize: bufSize,
		pending: make(map[int]Entry),
		logger:  logger,
	}
}

// SetActiveRecorder configures a callback invoked with the subscriber count
// whenever it changes.
func (n *Notifier) SetActiveRecorder(fn func(active int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onActive = fn
}

// SetDropRecorder configures a callback invoked each time a slow subscriber
// is dropped.
func (n *Notifier) SetDropRecorder(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDrop = fn
}

// expect enables sequencing: the next entry delivered will be index next.
func (n *Notifier) expect(next int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sequenced = true
	n.next = next
}

// Subscribe registers a new subscriber. It receives only entries published
// after this call returns. Subscribing to a closed Notifier returns a
// subscription whose channel is already closed.
func (n *Notifier) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.New(),
		ch: make(chan Entry, n.bufSize),
		n:  n,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	n.subs[sub.id] = sub
	n.recordActive()
	n.logger.Debug("ledger subscriber added",
		zap.String("subscription", sub.id.String()),
		zap.Int("active", len(n.subs)),
	)
	return sub
}

// Unsubscribe removes sub. No entries are delivered to it afterwards and its
// channel is closed. Unknown or already-closed subscriptions are ignored.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub.closed {
		return
	}
	n.remove(sub)
	n.logger.Debug("ledger subscriber removed",
		zap.String("subscription", sub.id.String()),
		zap.Int("active", len(n.subs)),
	)
}

// Publish delivers entry to every current subscriber without blocking.
func (n *Notifier) Publish(entry Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	if !n.sequenced {
		n.broadcast(entry)
		return
	}

	if entry.Index < n.next {
		n.logger.Warn("ledger entry published twice; ignoring",
			zap.Int("index", entry.Index),
			zap.Int("next", n.next),
		)
		return
	}
	n.pending[entry.Index] = entry
	for {
		e, ok := n.pending[n.next]
		if !ok {
			return
		}
		delete(n.pending, n.next)
		n.next++
		n.broadcast(e)
	}
}

// broadcast must be called with n.mu held.
func (n *Notifier) broadcast(entry Entry) {
	for _, sub := range n.subs {
		select {
		case sub.ch <- entry.clone():
		default:
			sub.dropped.Store(true)
			n.remove(sub)
			n.logger.Warn("ledger subscriber dropped: buffer full",
				zap.String("subscription", sub.id.String()),
				zap.Int("buffer", n.bufSize),
			)
			if n.onDrop != nil {
				n.onDrop()
			}
		}
	}
}

// remove must be called with n.mu held.
func (n *Notifier) remove(sub *Subscription) {
	delete(n.subs, sub.id)
	sub.closed = true
	close(sub.ch)
	n.recordActive()
}

func (n *Notifier) recordActive() {
	if n.onActive != nil {
		n.onActive(len(n.subs))
	}
}

// Len returns the number of active subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close closes every subscription. Later Publish calls are ignored and later
// Subscribe calls return closed subscriptions.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, sub := range n.subs {
		n.remove(sub)
	}
}
