// Package client provides the Go SDK for reading, appending to and tailing
// a TSA event ledger server.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("entry not found")

// ErrUnauthorized is returned when an append is rejected for a missing or
// invalid writer token.
var ErrUnauthorized = errors.New("unauthorized")

const (
	defaultTimeout = 10 * time.Second
	// maxResponse bounds a single response body; full chains can be large.
	maxResponse = 32 << 20
)

// Entry is a ledger entry as served by the API. Payload is kept as raw JSON
// so numbers and key order survive untouched.
type Entry struct {
	Index        int             `json:"index"`
	Timestamp    time.Time       `json:"timestamp"`
	Feature      string          `json:"feature"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previousHash"`
	Hash         string          `json:"hash"`
}

// Overview is the ledger summary returned by GET /api/v1/ledger.
type Overview struct {
	Entries     int    `json:"entries"`
	Root        string `json:"root"`
	Subscribers int    `json:"subscribers"`
}

// VerifyResult is the integrity report returned by GET /api/v1/ledger/verify.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	Entries     int    `json:"entries,omitempty"`
	BrokenIndex *int   `json:"broken_index,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Client is the ledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	tlsConfig   *tls.Config
	bearerToken string
	cache       *entryCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL enables in-memory caching of single-entry lookups.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newEntryCache(ttl)
		return nil
	}
}

// WithBearerToken attaches a writer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification for both
// HTTP calls and the stream. Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		c.httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: c.tlsConfig},
			Timeout:   defaultTimeout,
		}
		return nil
	}
}

// New creates a new Client for the server at base, e.g. "http://localhost:5001".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}

	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns the chain length, root hash and subscriber count.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.getJSON(ctx, "/api/v1/ledger", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chain returns the entries with index >= since (0 for the full chain).
func (c *Client) Chain(ctx context.Context, since int) ([]Entry, error) {
	path := "/api/v1/ledger/chain"
	if since > 0 {
		path += "?since=" + strconv.Itoa(since)
	}
	var out []Entry
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify asks the server to verify the full chain.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entry returns the entry at index.
func (c *Client) Entry(ctx context.Context, index int) (*Entry, error) {
	if c.cache != nil {
		if e, ok := c.cache.get(index); ok {
			return e, nil
		}
	}

	var out Entry
	if err := c.getJSON(ctx, "/api/v1/ledger/entries/"+strconv.Itoa(index), &out); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(index, &out)
	}
	return &out, nil
}

// FeatureLogs returns the entries recorded under feature. When key is
// non-empty only entries whose payload object has that key are returned.
func (c *Client) FeatureLogs(ctx context.Context, feature, key string) ([]Entry, error) {
	path := "/api/v1/ledger/features/" + url.PathEscape(feature) + "/logs"
	if key != "" {
		path += "?key=" + url.QueryEscape(key)
	}
	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Append records payload under feature. payload is JSON-encoded; pass a
// json.RawMessage to send pre-encoded JSON.
func (c *Client) Append(ctx context.Context, feature string, payload any) (*Entry, error) {
	body, err := json.Marshal(map[string]any{"feature": feature, "payload": payload})
	if err != nil {
		return nil, fmt.Errorf("marshal append request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/ledger/entries", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out Entry
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode append response: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, apiError(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, apiError(body))
	}
	return body, nil
}

// apiError extracts the "error" field of a JSON error body, falling back to
// the raw body.
func apiError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// --- simple in-memory entry cache ---

// maxCachedEntries bounds the cache for long-lived clients.
const maxCachedEntries = 1024

type cacheEntry struct {
	entry     *Entry
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type entryCache struct {
	mu      sync.RWMutex
	entries map[int]*cacheEntry
	ttl     time.Duration
	max     int
}

func newEntryCache(ttl time.Duration) *entryCache {
	return &entryCache{entries: make(map[int]*cacheEntry), ttl: ttl, max: maxCachedEntries}
}

func (ec *entryCache) get(index int) (*Entry, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	e, ok := ec.entries[index]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return copyEntry(e.entry), true
}

func (ec *entryCache) set(index int, entry *Entry) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, ok := ec.entries[index]; !ok && len(ec.entries) >= ec.max {
		ec.evict()
	}
	ec.entries[index] = &cacheEntry{entry: copyEntry(entry), expiresAt: time.Now().Add(ec.ttl)}
}

// evict drops expired entries, then the one closest to expiry if the cache
// is still full. Callers hold ec.mu.
func (ec *entryCache) evict() {
	now := time.Now()
	oldest, found := 0, false
	for k, e := range ec.entries {
		if e.expired(now) {
			delete(ec.entries, k)
			continue
		}
		if !found || e.expiresAt.Before(ec.entries[oldest].expiresAt) {
			oldest, found = k, true
		}
	}
	if found && len(ec.entries) >= ec.max {
		delete(ec.entries, oldest)
	}
}

func (ec *entryCache) len() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.entries)
}

// copyEntry returns a copy that shares no Payload bytes with e.
func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &cp
}
