package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// Source is the part of the ledger the forwarder reads from.
type Source interface {
	Subscribe() *eventledger.Subscription
	Query(pred eventledger.Predicate) []eventledger.Entry
	Len() int
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Forwarder POSTs every entry appended after Run starts to the configured
// sinks, in index order. A forwarder that falls behind and is dropped by the
// notifier resubscribes and backfills from the chain, so no entry is skipped.
type Forwarder struct {
	source      Source
	sinks       []Sink
	httpClient  *http.Client
	retryDelays []time.Duration
	onMetrics   MetricsRecorder
	logger      *zap.Logger

	next int
}

// NewForwarder creates a Forwarder for sinks.
func NewForwarder(source Source, sinks []Sink, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		source:      source,
		sinks:       sinks,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 25 * time.Second},
		logger:      logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (f *Forwarder) SetMetricsRecorder(fn MetricsRecorder) {
	f.onMetrics = fn
}

// Run forwards entries until ctx is done or the ledger shuts down.
func (f *Forwarder) Run(ctx context.Context) error {
	f.next = f.source.Len()
	for {
		sub := f.source.Subscribe()
		for _, e := range f.source.Query(eventledger.Since(f.next)) {
			f.forward(ctx, e)
		}

		dropped, err := f.drain(ctx, sub)
		if err != nil || !dropped {
			return err
		}
		f.logger.Warn("webhook: forwarder fell behind, backfilling", zap.Int("next", f.next))
	}
}

// drain forwards from sub until it closes. It reports whether the close was
// a drop.
func (f *Forwarder) drain(ctx context.Context, sub *eventledger.Subscription) (bool, error) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case e, ok := <-sub.C():
			if !ok {
				return sub.Dropped(), nil
			}
			if e.Index >= f.next {
				f.forward(ctx, e)
			}
		}
	}
}

// forward delivers e to every interested sink and waits for all of them.
func (f *Forwarder) forward(ctx context.Context, e eventledger.Entry) {
	f.next = e.Index + 1

	body, err := json.Marshal(WebhookEvent{
		Type:      EventEntryAppended,
		Timestamp: time.Now().UTC(),
		Entry:     e,
	})
	if err != nil {
		f.logger.Error("webhook: marshal event", zap.Int("index", e.Index), zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, sink := range f.sinks {
		if !sink.wants(e.Feature) {
			continue
		}
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			f.deliver(ctx, sink, body)
		}(sink)
	}
	wg.Wait()
}

// deliver sends body to a single sink with retries.
func (f *Forwarder) deliver(ctx context.Context, sink Sink, body []byte) {
	deliveryID := uuid.NewString()
	for attempt := 0; attempt <= len(f.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.retryDelays[attempt-1]):
			case <-ctx.Done():
				return
			}
		}

		err := f.doDelivery(ctx, sink, deliveryID, body)
		if f.onMetrics != nil {
			f.onMetrics(err == nil)
		}
		if err == nil {
			return
		}
		f.logger.Warn("webhook: delivery failed",
			zap.String("url", sink.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (f *Forwarder) doDelivery(ctx context.Context, sink Sink, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, EventEntryAppended)
	req.Header.Set(HeaderDelivery, deliveryID)
	if sink.Secret != "" {
		req.Header.Set(HeaderSignature, SignPayload(body, sink.Secret))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// SignPayload computes the HMAC-SHA256 signature sent in HeaderSignature.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
