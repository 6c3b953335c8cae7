package main

import (
	"bytes"
	"strings"
	"sync"

	"github.com/algorand/go-deadlock"
	"go.uber.org/zap"
)

// deadlockLogger collects the detector's report on Opts.LogBuf and logs it
// through zap when a potential deadlock is signalled. Unlike the library
// default it does not exit the process.
type deadlockLogger struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	logger *zap.Logger
}

// Write implements io.Writer for deadlock.Opts.LogBuf.
func (d *deadlockLogger) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

func (d *deadlockLogger) onPotentialDeadlock() {
	d.mu.Lock()
	report := strings.TrimSpace(d.buf.String())
	d.buf.Reset()
	d.mu.Unlock()

	d.logger.Error("potential deadlock detected", zap.String("report", report))
}

// configureDeadlockDetection applies debug.deadlock_detection and
// debug.deadlock_threshold to the lock detector guarding the ledger. It must
// run before any ledger lock is taken.
func configureDeadlockDetection(cfg config, logger *zap.Logger) {
	if !cfg.DeadlockDetection {
		deadlock.Opts.Disable = true
		return
	}

	dl := &deadlockLogger{logger: logger}
	deadlock.Opts.Disable = false
	deadlock.Opts.DeadlockTimeout = cfg.DeadlockThreshold
	deadlock.Opts.LogBuf = dl
	deadlock.Opts.OnPotentialDeadlock = dl.onPotentialDeadlock
	logger.Info("deadlock detection enabled", zap.Duration("threshold", cfg.DeadlockThreshold))
}
