package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// Status values reported by the auditor.
const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds chain audit configuration.
type Config struct {
	CheckInterval time.Duration
	FailThreshold int
}

// Chain is the read side of the ledger the auditor inspects.
type Chain interface {
	VerifyChain() error
	Get(index int) (eventledger.Entry, error)
	Tip() (length int, root string)
}

// MetricsRecordFunc is an optional callback for recording audit results.
type MetricsRecordFunc func(success bool)

// Report is the outcome of the most recent audit.
type Report struct {
	Status    string    `json:"status"`
	Entries   int       `json:"entries"`
	Root      string    `json:"root"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Auditor re-verifies the ledger on an interval and checks that entries seen
// by an earlier audit still carry the same hash.
type Auditor struct {
	chain     Chain
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.Mutex
	failCount int
	seenLen   int
	seenRoot  string
	last      Report
}

// New creates a new Auditor.
func New(chain Chain, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Auditor{
		chain:  chain,
		cfg:    cfg,
		logger: logger,
		last:   Report{Status: StatusUnknown},
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// Start runs the audit loop until ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the most recent report.
func (a *Auditor) Last() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Check audits the chain once and returns the resulting report.
func (a *Auditor) Check(ctx context.Context) Report {
	if ctx.Err() != nil {
		return a.Last()
	}

	n, root := a.chain.Tip()
	err := a.chain.VerifyChain()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err == nil && a.seenLen > 0 {
		err = a.checkRetained()
	}

	if a.onMetrics != nil {
		a.onMetrics(err == nil)
	}

	prev := a.last.Status
	report := Report{Entries: n, Root: root, CheckedAt: time.Now().UTC()}
	if err == nil {
		a.failCount = 0
		a.seenLen, a.seenRoot = n, root
		report.Status = StatusHealthy
		if prev == StatusDegraded {
			a.logger.Info("health: ledger recovered", zap.Int("entries", n))
		}
	} else {
		a.failCount++
		report.Error = err.Error()
		report.Status = prev
		if a.failCount >= a.cfg.FailThreshold {
			report.Status = StatusDegraded
		}
		if report.Status == StatusDegraded && prev != StatusDegraded {
			a.logger.Error("health: ledger degraded",
				zap.Int("fail_count", a.failCount),
				zap.Error(err),
			)
		}
	}
	a.last = report
	return report
}

// checkRetained compares the entry at the previously audited tip with the
// root recorded then. Callers hold a.mu.
func (a *Auditor) checkRetained() error {
	e, err := a.chain.Get(a.seenLen - 1)
	if err != nil {
		return fmt.Errorf("entry %d no longer readable: %w", a.seenLen-1, err)
	}
	if e.Hash != a.seenRoot {
		return fmt.Errorf("entry %d changed since last audit: hash %s, was %s", e.Index, e.Hash, a.seenRoot)
	}
	return nil
}
