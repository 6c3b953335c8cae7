package eventledger

import (
	"context"

	"go.uber.org/zap"
)

// Ledger is the interface feature handlers use to record and read events.
// It composes a ChainStore, which owns the chain, with a Notifier, which
// pushes each new entry to live subscribers once it is durable.
type Ledger struct {
	store    *ChainStore
	notifier *Notifier
	onAppend func(feature string)
	logger   *zap.Logger
}

// New creates a Ledger. The notifier is switched to sequenced delivery
// starting after the store's current tail, so subscribers see entries in
// index order.
func New(store *ChainStore, notifier *Notifier, logger *zap.Logger) *Ledger {
	notifier.expect(store.Len())
	return &Ledger{store: store, notifier: notifier, logger: logger}
}

// SetAppendRecorder configures a callback invoked after every successful
// append, e.g. to count entries per feature.
func (l *Ledger) SetAppendRecorder(fn func(feature string)) {
	l.onAppend = fn
}

// Append records payload under feature and broadcasts the new entry. On
// error nothing is recorded and nothing is published.
func (l *Ledger) Append(ctx context.Context, feature string, payload any) (Entry, error) {
	entry, err := l.store.Append(ctx, feature, payload)
	if err != nil {
		return Entry{}, err
	}

	l.notifier.Publish(entry)
	if l.onAppend != nil {
		l.onAppend(feature)
	}
	l.logger.Debug("ledger entry appended",
		zap.Int("index", entry.Index),
		zap.String("feature", entry.Feature),
		zap.String("hash", entry.Hash),
	)
	return entry, nil
}

// Query returns the entries matching pred, in index order. A nil pred
// matches every entry.
func (l *Ledger) Query(pred Predicate) []Entry {
	entries := l.store.Entries()
	if pred == nil {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a live subscriber for entries appended from now on.
func (l *Ledger) Subscribe() *Subscription { return l.notifier.Subscribe() }

// Unsubscribe removes a subscriber.
func (l *Ledger) Unsubscribe(sub *Subscription) { l.notifier.Unsubscribe(sub) }

// Subscribers returns the number of live subscribers.
func (l *Ledger) Subscribers() int { return l.notifier.Len() }

// Entries returns a snapshot of the full chain.
func (l *Ledger) Entries() []Entry { return l.store.Entries() }

// Get returns the entry at index.
func (l *Ledger) Get(index int) (Entry, error) { return l.store.Get(index) }

// Len returns the chain length including genesis.
func (l *Ledger) Len() int { return l.store.Len() }

// Root returns the hash of the chain tail.
func (l *Ledger) Root() string { return l.store.Root() }

// Tip returns the chain length and root hash as one consistent pair.
func (l *Ledger) Tip() (int, string) { return l.store.Tip() }

// Verify reports whether the chain is intact.
func (l *Ledger) Verify() bool { return l.store.Verify() }

// VerifyChain returns the earliest *ChainBreak, or nil.
func (l *Ledger) VerifyChain() error { return l.store.VerifyChain() }

// Close disconnects every subscriber and closes the store.
func (l *Ledger) Close() error {
	l.notifier.Close()
	return l.store.Close()
}

// Predicate selects entries in Query.
type Predicate func(Entry) bool

// FeatureIs matches entries recorded under feature.
func FeatureIs(feature string) Predicate {
	return func(e Entry) bool { return e.Feature == feature }
}

// HasPayloadKey matches entries whose payload is an object containing key.
func HasPayloadKey(key string) Predicate {
	return func(e Entry) bool { return e.HasPayloadKey(key) }
}

// Since matches entries with an index of at least index.
func Since(index int) Predicate {
	return func(e Entry) bool { return e.Index >= index }
}

// All matches entries satisfying every pred. With no preds it matches all.
func All(preds ...Predicate) Predicate {
	return func(e Entry) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}
