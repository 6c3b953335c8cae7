package eventledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/algorand/go-deadlock"
	"go.uber.org/zap"
)

// ChainStore owns the authoritative in-memory chain and its durable Backend.
// It is safe for concurrent use: appends are serialised by a single lock that
// covers the tail read, hashing, the durable write and the in-memory commit,
// and readers always observe a complete snapshot.
type ChainStore struct {
	mu      deadlock.RWMutex
	entries []Entry
	backend Backend
	now     func() time.Time
	logger  *zap.Logger
}

// StoreOption configures a ChainStore.
type StoreOption func(*ChainStore)

// WithClock overrides the time source used to stamp new entries.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ChainStore) {
		s.now = now
	}
}

// OpenChainStore loads the chain persisted in backend and verifies it. When
// the backend holds nothing, a genesis entry is minted and persisted. A chain
// that fails to decode or verify is never repaired: a *CorruptChainError is
// returned instead.
func OpenChainStore(ctx context.Context, backend Backend, logger *zap.Logger, opts ...StoreOption) (*ChainStore, error) {
	s := &ChainStore{
		backend: backend,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}

	if len(loaded) == 0 {
		genesis, err := newGenesis(s.now())
		if err != nil {
			return nil, fmt.Errorf("mint genesis: %w", err)
		}
		if err := backend.Persist(ctx, []Entry{genesis}); err != nil {
			return nil, &PersistenceError{Op: "persist genesis", Err: err}
		}
		s.entries = []Entry{genesis}
		logger.Info("event ledger created",
			zap.String("backend", backend.String()),
			zap.String("genesis", genesis.Hash),
		)
		return s, nil
	}

	if err := VerifyEntries(loaded); err != nil {
		idx := -1
		var br *ChainBreak
		if errors.As(err, &br) {
			idx = br.Index
		}
		return nil, &CorruptChainError{Source: backend.String(), Index: idx, Err: err}
	}

	s.entries = loaded
	logger.Info("event ledger loaded",
		zap.String("backend", backend.String()),
		zap.Int("entries", len(loaded)),
		zap.String("root", loaded[len(loaded)-1].Hash),
	)
	return s, nil
}

// OpenFileChainStore opens a ChainStore persisted to the JSON file at path.
func OpenFileChainStore(ctx context.Context, path string, logger *zap.Logger, opts ...StoreOption) (*ChainStore, error) {
	return OpenChainStore(ctx, NewFileBackend(path), logger, opts...)
}

// Append builds the next entry for feature and payload, persists it and
// commits it to the in-memory chain. If the durable write fails a
// *PersistenceError is returned and the chain is left exactly as it was.
// Once the critical section has started, ctx no longer cancels the append;
// it is only passed through to the backend.
func (s *ChainStore) Append(ctx context.Context, feature string, payload any) (Entry, error) {
	if strings.TrimSpace(feature) == "" {
		return Entry{}, fmt.Errorf("%w: feature label required", ErrInvalidEntry)
	}
	norm, canon, err := normalizePayload(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.entries[len(s.entries)-1]
	entry := Entry{
		Index:        len(s.entries),
		Timestamp:    nextTimestamp(tail.Timestamp, s.now()),
		Feature:      feature,
		Payload:      norm,
		PreviousHash: tail.Hash,
	}
	entry.Hash = hashFields(entry.Index, entry.Timestamp, entry.Feature, canon, entry.PreviousHash)

	if err := checkSuccessor(tail, entry); err != nil {
		return Entry{}, err
	}

	// Writing into spare capacity is invisible to readers: they copy
	// s.entries[:len] under the read lock, which is excluded here.
	candidate := append(s.entries, entry)
	if err := s.backend.Persist(ctx, candidate); err != nil {
		s.logger.Error("event ledger persist failed",
			zap.Int("index", entry.Index),
			zap.String("feature", feature),
			zap.Error(err),
		)
		return Entry{}, &PersistenceError{Op: "append", Err: err}
	}
	s.entries = candidate

	return entry.clone(), nil
}

// checkSuccessor re-derives next's hash from its fields and checks that it
// links to tail.
func checkSuccessor(tail, next Entry) error {
	if next.Index != tail.Index+1 {
		return &InvariantViolation{Index: next.Index, Reason: "index is not tail+1"}
	}
	if next.PreviousHash != tail.Hash {
		return &InvariantViolation{Index: next.Index, Reason: "previous hash does not match tail"}
	}
	h, err := ComputeHash(next)
	if err != nil {
		return &InvariantViolation{Index: next.Index, Reason: err.Error()}
	}
	if h != next.Hash {
		return &InvariantViolation{Index: next.Index, Reason: "hash is not reproducible"}
	}
	return nil
}

// Entries returns a snapshot of the full chain in index order. The snapshot
// shares no state with the store and stays valid while appends continue.
func (s *ChainStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns the entry at the given zero-based index.
func (s *ChainStore) Get(index int) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.entries) {
		return Entry{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return s.entries[index].clone(), nil
}

// Len returns the number of entries, including genesis.
func (s *ChainStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Root returns the hash of the chain tail.
func (s *ChainStore) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[len(s.entries)-1].Hash
}

// Tip returns the chain length and the hash of its tail, read together.
func (s *ChainStore) Tip() (int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), s.entries[len(s.entries)-1].Hash
}

// Verify reports whether the in-memory chain satisfies every invariant.
func (s *ChainStore) Verify() bool {
	return s.VerifyChain() == nil
}

// VerifyChain is like Verify but returns a *ChainBreak describing the
// earliest violation.
func (s *ChainStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return VerifyEntries(s.entries)
}

// Close closes the backend.
func (s *ChainStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
