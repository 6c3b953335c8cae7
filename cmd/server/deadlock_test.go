package main

import (
	"strings"
	"testing"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// restoreDeadlockOpts puts the detector settings back after a test changes them.
func restoreDeadlockOpts(t *testing.T) {
	t.Helper()
	disable, timeout := deadlock.Opts.Disable, deadlock.Opts.DeadlockTimeout
	logBuf, onDeadlock := deadlock.Opts.LogBuf, deadlock.Opts.OnPotentialDeadlock
	t.Cleanup(func() {
		deadlock.Opts.Disable = disable
		deadlock.Opts.DeadlockTimeout = timeout
		deadlock.Opts.LogBuf = logBuf
		deadlock.Opts.OnPotentialDeadlock = onDeadlock
	})
}

func TestConfigFrom_deadlockDefaults(t *testing.T) {
	cfg := testConfig(t)
	if cfg.DeadlockDetection || cfg.DeadlockThreshold != 5*time.Minute {
		t.Errorf("deadlock defaults: detection=%v threshold=%s", cfg.DeadlockDetection, cfg.DeadlockThreshold)
	}

	v := viper.New()
	setDefaults(v)
	v.Set("debug.deadlock_detection", true)
	v.Set("debug.deadlock_threshold", "0s")
	if _, err := configFrom(v); err == nil {
		t.Error("expected error for zero threshold with detection on")
	}
}

func TestConfigureDeadlockDetection_disabledByDefault(t *testing.T) {
	restoreDeadlockOpts(t)

	configureDeadlockDetection(testConfig(t), zap.NewNop())
	if !deadlock.Opts.Disable {
		t.Error("detection should be disabled by default")
	}
}

func TestConfigureDeadlockDetection_logsInsteadOfExiting(t *testing.T) {
	restoreDeadlockOpts(t)

	core, logs := observer.New(zap.ErrorLevel)
	cfg := testConfig(t)
	cfg.DeadlockDetection = true
	cfg.DeadlockThreshold = 50 * time.Millisecond
	configureDeadlockDetection(cfg, zap.New(core))

	if deadlock.Opts.Disable || deadlock.Opts.DeadlockTimeout != 50*time.Millisecond {
		t.Fatalf("opts not applied: disable=%v timeout=%s", deadlock.Opts.Disable, deadlock.Opts.DeadlockTimeout)
	}

	// Hold a lock well past the threshold while another goroutine waits on it,
	// as an append stuck behind a stalled database write would.
	var mu deadlock.Mutex
	mu.Lock()
	acquired := make(chan struct{})
	go func() {
		mu.Lock()
		mu.Unlock() //nolint:staticcheck
		close(acquired)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for logs.FilterMessage("potential deadlock detected").Len() == 0 {
		if time.Now().After(deadline) {
			mu.Unlock()
			t.Fatal("no deadlock report logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Unlock()

	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	entry := logs.FilterMessage("potential deadlock detected").All()[0]
	report, _ := entry.ContextMap()["report"].(string)
	if !strings.Contains(report, "POTENTIAL DEADLOCK") {
		t.Errorf("report = %q", report)
	}
}
