package handler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/tsa-ledger/internal/activity"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"github.com/jmerrifield20/tsa-ledger/internal/server/handler"
	"go.uber.org/zap"
)

var ctx = context.Background()

// flakyBackend wraps a real backend and fails Persist on demand.
type flakyBackend struct {
	eventledger.Backend
	fail atomic.Bool
}

func (b *flakyBackend) Persist(ctx context.Context, chain []eventledger.Entry) error {
	if b.fail.Load() {
		return errors.New("disk full")
	}
	return b.Backend.Persist(ctx, chain)
}

func newFlakyBackend(t *testing.T) *flakyBackend {
	t.Helper()
	return &flakyBackend{Backend: eventledger.NewFileBackend(filepath.Join(t.TempDir(), "chain.json"))}
}

func newTestLedger(t *testing.T, backend eventledger.Backend) *eventledger.Ledger {
	t.Helper()
	if backend == nil {
		backend = eventledger.NewFileBackend(filepath.Join(t.TempDir(), "chain.json"))
	}
	store, err := eventledger.OpenChainStore(ctx, backend, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	l := eventledger.New(store, eventledger.NewNotifier(0, zap.NewNop()), zap.NewNop())
	t.Cleanup(func() { l.Close() })
	return l
}

func setupRouter(t *testing.T, l *eventledger.Ledger, configure ...func(*handler.LedgerHandler)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lh := handler.NewLedgerHandler(l, zap.NewNop())
	for _, fn := range configure {
		fn(lh)
	}
	lh.Register(r.Group("/api/v1"))

	svc := activity.NewService(l, zap.NewNop())
	handler.NewActivityHandler(svc, l, zap.NewNop()).Register(r)
	return r
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
