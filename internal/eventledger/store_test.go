package eventledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func waterPayload() map[string]any {
	return map[string]any{
		"input":  map[string]any{"crop": "Rice"},
		"output": map[string]any{"score": 62.0},
	}
}

func openFileStore(t *testing.T) (*eventledger.ChainStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.json")
	s, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileChainStore: %v", err)
	}
	return s, path
}

// failingBackend wraps a Backend and fails Persist while fail is set.
type failingBackend struct {
	eventledger.Backend
	mu   sync.Mutex
	fail bool
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func (b *failingBackend) Persist(ctx context.Context, chain []eventledger.Entry) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Persist(ctx, chain)
}

func TestOpen_createsGenesis(t *testing.T) {
	s, path := openFileStore(t)

	if n := s.Len(); n != 1 {
		t.Fatalf("expected 1 genesis entry, got %d", n)
	}
	g, err := s.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Index != 0 {
		t.Errorf("genesis index: got %d, want 0", g.Index)
	}
	if g.PreviousHash != eventledger.GenesisPreviousHash {
		t.Errorf("genesis previousHash: got %q, want %q", g.PreviousHash, eventledger.GenesisPreviousHash)
	}
	if g.Feature != eventledger.GenesisFeature {
		t.Errorf("genesis feature: got %q, want %q", g.Feature, eventledger.GenesisFeature)
	}
	if g.Payload != eventledger.GenesisPayload {
		t.Errorf("genesis payload: got %v, want %q", g.Payload, eventledger.GenesisPayload)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("genesis was not persisted: %v", err)
	}
	if !s.Verify() {
		t.Error("Verify() should pass on a genesis-only chain")
	}
	if s.Root() != g.Hash {
		t.Errorf("Root(): got %q, want genesis hash %q", s.Root(), g.Hash)
	}
}

func TestAppend_waterSimulationScenario(t *testing.T) {
	s, path := openFileStore(t)
	genesis, _ := s.Get(0)

	e, err := s.Append(ctx, "Water Simulation", waterPayload())
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.Index != 1 {
		t.Errorf("index: got %d, want 1", e.Index)
	}
	if e.PreviousHash != genesis.Hash {
		t.Errorf("previousHash: got %q, want genesis hash %q", e.PreviousHash, genesis.Hash)
	}
	if !s.Verify() {
		t.Fatal("Verify() failed after a legitimate append")
	}

	// Corrupt the stored payload of index 1 directly in the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := eventledger.DecodeChain(data)
	if err != nil {
		t.Fatal(err)
	}
	entries[1].Payload.(map[string]any)["output"].(map[string]any)["score"] = json.Number("99")
	data, err = eventledger.EncodeChain(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if !errors.Is(err, eventledger.ErrCorruptChain) {
		t.Fatalf("expected ErrCorruptChain, got %v", err)
	}
	var cce *eventledger.CorruptChainError
	if !errors.As(err, &cce) {
		t.Fatalf("expected *CorruptChainError, got %T", err)
	}
	if cce.Index != 1 {
		t.Errorf("broken index: got %d, want 1", cce.Index)
	}
}

func TestOpen_reloadsPersistedChain(t *testing.T) {
	s, path := openFileStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "Crop Planner", map[string]any{"input": i}); err != nil {
			t.Fatal(err)
		}
	}
	want := s.Entries()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Entries()
	if len(got) != len(want) {
		t.Fatalf("reloaded %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Hash != want[i].Hash {
			t.Errorf("entry %d hash: got %q, want %q", i, got[i].Hash, want[i].Hash)
		}
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("entry %d timestamp: got %v, want %v", i, got[i].Timestamp, want[i].Timestamp)
		}
	}

	e, err := reopened.Append(ctx, "Dashboard Accessed", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Index != 4 || e.PreviousHash != want[3].Hash {
		t.Errorf("append after reload: index=%d prev=%q, want index=4 prev=%q", e.Index, e.PreviousHash, want[3].Hash)
	}
}

func TestOpen_unparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	var cce *eventledger.CorruptChainError
	if !errors.As(err, &cce) {
		t.Fatalf("expected *CorruptChainError, got %v", err)
	}
	if cce.Index != -1 {
		t.Errorf("index: got %d, want -1 for undecodable data", cce.Index)
	}

	// The corrupt file must be left untouched.
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("corrupt file was modified: %q", data)
	}
}

func TestOpen_emptyChainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if !errors.Is(err, eventledger.ErrCorruptChain) {
		t.Fatalf("expected ErrCorruptChain for an empty chain file, got %v", err)
	}
}

func TestAppend_monotonicIndexing(t *testing.T) {
	s, _ := openFileStore(t)
	const n = 10
	for i := 0; i < n; i++ {
		if _, err := s.Append(ctx, "Crop Planner", map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	entries := s.Entries()
	if len(entries) != n+1 {
		t.Fatalf("expected %d entries, got %d", n+1, len(entries))
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("entries[%d].Index = %d", i, e.Index)
		}
		if i > 0 && !e.Timestamp.After(entries[i-1].Timestamp) {
			t.Errorf("entries[%d] timestamp %v not after %v", i, e.Timestamp, entries[i-1].Timestamp)
		}
	}
}

func TestComputeHash_deterministic(t *testing.T) {
	s, path := openFileStore(t)
	if _, err := s.Append(ctx, "Water Simulation", waterPayload()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, "Order Placed", map[string]any{"item": "seeds", "qty": 3, "price": 1.5}); err != nil {
		t.Fatal(err)
	}

	check := func(label string, entries []eventledger.Entry) {
		for _, e := range entries {
			h, err := eventledger.ComputeHash(e)
			if err != nil {
				t.Fatalf("%s: ComputeHash(%d): %v", label, e.Index, err)
			}
			if h != e.Hash {
				t.Errorf("%s: entry %d: recomputed %q, stored %q", label, e.Index, h, e.Hash)
			}
		}
	}
	check("in-memory", s.Entries())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := eventledger.DecodeChain(data)
	if err != nil {
		t.Fatal(err)
	}
	check("decoded", decoded)
}

func TestAppend_concurrent(t *testing.T) {
	s, path := openFileStore(t)
	const k = 50

	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(ctx, "Crop Planner", map[string]any{"worker": i}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Append: %v", err)
	}

	entries := s.Entries()
	if len(entries) != k+1 {
		t.Fatalf("expected %d entries, got %d", k+1, len(entries))
	}
	seen := make(map[string]bool)
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("entries[%d].Index = %d", i, e.Index)
		}
		if seen[e.PreviousHash] {
			t.Errorf("previousHash %q used twice", e.PreviousHash)
		}
		seen[e.PreviousHash] = true
	}
	if err := s.VerifyChain(); err != nil {
		t.Errorf("VerifyChain after concurrent appends: %v", err)
	}

	reopened, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen after concurrent appends: %v", err)
	}
	if reopened.Len() != k+1 {
		t.Errorf("persisted %d entries, want %d", reopened.Len(), k+1)
	}
}

func TestAppend_persistenceFailureRollsBack(t *testing.T) {
	backend := &failingBackend{Backend: eventledger.NewFileBackend(filepath.Join(t.TempDir(), "chain.json"))}
	s, err := eventledger.OpenChainStore(ctx, backend, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	rootBefore := s.Root()

	backend.setFail(true)
	_, err = s.Append(ctx, "Crop Planner", map[string]any{"input": "x"})
	if !errors.Is(err, eventledger.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("chain advanced after failed persist: len=%d", s.Len())
	}
	if s.Root() != rootBefore {
		t.Errorf("root changed after failed persist")
	}

	backend.setFail(false)
	e, err := s.Append(ctx, "Crop Planner", map[string]any{"input": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Index != 1 || e.PreviousHash != rootBefore {
		t.Errorf("append after recovery: index=%d prev=%q", e.Index, e.PreviousHash)
	}
	if !s.Verify() {
		t.Error("Verify() failed after recovery")
	}
}

func TestOpen_genesisPersistFailure(t *testing.T) {
	backend := &failingBackend{
		Backend: eventledger.NewFileBackend(filepath.Join(t.TempDir(), "chain.json")),
		fail:    true,
	}
	_, err := eventledger.OpenChainStore(ctx, backend, zap.NewNop())
	if !errors.Is(err, eventledger.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestEntries_snapshotIsolation(t *testing.T) {
	s, _ := openFileStore(t)
	if _, err := s.Append(ctx, "Water Simulation", waterPayload()); err != nil {
		t.Fatal(err)
	}

	snap := s.Entries()
	snap[1].Payload.(map[string]any)["input"] = "tampered"
	snap[1].Feature = "tampered"

	if _, err := s.Append(ctx, "Crop Planner", nil); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Errorf("snapshot grew to %d entries", len(snap))
	}
	if !s.Verify() {
		t.Error("mutating a snapshot corrupted the store")
	}
	got, _ := s.Get(1)
	if got.Feature != "Water Simulation" {
		t.Errorf("stored feature changed to %q", got.Feature)
	}
}

func TestAppend_invalidEntry(t *testing.T) {
	s, _ := openFileStore(t)

	if _, err := s.Append(ctx, "", nil); !errors.Is(err, eventledger.ErrInvalidEntry) {
		t.Errorf("empty feature: expected ErrInvalidEntry, got %v", err)
	}
	if _, err := s.Append(ctx, "Crop Planner", map[string]any{"ch": make(chan int)}); !errors.Is(err, eventledger.ErrInvalidEntry) {
		t.Errorf("unencodable payload: expected ErrInvalidEntry, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("invalid appends advanced the chain to %d", s.Len())
	}
}

func TestAppend_cancelledContext(t *testing.T) {
	s, _ := openFileStore(t)
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := s.Append(cctx, "Crop Planner", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("cancelled append advanced the chain to %d", s.Len())
	}
}

func TestAppend_frozenClockStillOrdersTimestamps(t *testing.T) {
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "chain.json")
	s, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop(),
		eventledger.WithClock(func() time.Time { return frozen }))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "Crop Planner", i); err != nil {
			t.Fatal(err)
		}
	}
	entries := s.Entries()
	for i := 1; i < len(entries); i++ {
		if !entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Errorf("timestamp %d (%v) not after %d (%v)", i, entries[i].Timestamp, i-1, entries[i-1].Timestamp)
		}
	}
	if !s.Verify() {
		t.Error("Verify() failed with a frozen clock")
	}
}

func TestGet_outOfRange(t *testing.T) {
	s, _ := openFileStore(t)
	for _, idx := range []int{-1, 1, 999} {
		if _, err := s.Get(idx); !errors.Is(err, eventledger.ErrNotFound) {
			t.Errorf("Get(%d): expected ErrNotFound, got %v", idx, err)
		}
	}
}

func TestTip_consistentUnderAppends(t *testing.T) {
	s, _ := openFileStore(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.Append(ctx, "Water Simulator", waterPayload()); err != nil {
				t.Errorf("append %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		n, root := s.Tip()
		e, err := s.Get(n - 1)
		if err != nil {
			t.Fatalf("Get(%d): %v", n-1, err)
		}
		if e.Hash != root {
			t.Fatalf("Tip returned len %d with root %s, entry %d has %s", n, root, n-1, e.Hash)
		}
	}
	wg.Wait()
}

func TestVerifyEntries_detectsTampering(t *testing.T) {
	s, _ := openFileStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "Water Simulation", map[string]any{"input": map[string]any{"n": i}}); err != nil {
			t.Fatal(err)
		}
	}

	const target = 2
	mutations := map[string]func(e *eventledger.Entry){
		"index":        func(e *eventledger.Entry) { e.Index = 7 },
		"timestamp":    func(e *eventledger.Entry) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"feature":      func(e *eventledger.Entry) { e.Feature = "Crop Planner" },
		"payload":      func(e *eventledger.Entry) { e.Payload = map[string]any{"input": "forged"} },
		"previousHash": func(e *eventledger.Entry) { e.PreviousHash = "deadbeef" },
		"hash":         func(e *eventledger.Entry) { e.Hash = "deadbeef" },
	}

	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			entries := s.Entries()
			mutate(&entries[target])

			err := eventledger.VerifyEntries(entries)
			var br *eventledger.ChainBreak
			if !errors.As(err, &br) {
				t.Fatalf("expected *ChainBreak, got %v", err)
			}
			if br.Index != target {
				t.Errorf("broken index: got %d, want %d (%s)", br.Index, target, br.Reason)
			}
		})
	}
}

func TestVerifyEntries_genesisSentinel(t *testing.T) {
	s, _ := openFileStore(t)
	entries := s.Entries()
	entries[0].PreviousHash = "1"

	err := eventledger.VerifyEntries(entries)
	var br *eventledger.ChainBreak
	if !errors.As(err, &br) || br.Index != 0 {
		t.Fatalf("expected break at index 0, got %v", err)
	}
}

func TestVerifyEntries_empty(t *testing.T) {
	if err := eventledger.VerifyEntries(nil); err == nil {
		t.Error("expected an empty chain to fail verification")
	}
}

func TestAppend_payloadNumbersSurviveReload(t *testing.T) {
	s, path := openFileStore(t)
	payloads := []any{
		map[string]any{"score": 62.0, "saved": 40, "ratio": 0.125},
		[]any{"Beans", "Sunflowers"},
		"plain string <b>&</b>",
		true,
		nil,
		struct {
			Crop string `json:"crop"`
			Area int    `json:"area"`
		}{"Wheat", 12},
	}
	for i, p := range payloads {
		if _, err := s.Append(ctx, fmt.Sprintf("Feature %d", i), p); err != nil {
			t.Fatalf("append payload %d: %v", i, err)
		}
	}

	reopened, err := eventledger.OpenFileChainStore(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != len(payloads)+1 {
		t.Errorf("reloaded %d entries, want %d", reopened.Len(), len(payloads)+1)
	}
}
