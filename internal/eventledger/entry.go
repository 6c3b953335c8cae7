package eventledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// GenesisPreviousHash is the sentinel stored as the genesis entry's PreviousHash.
	GenesisPreviousHash = "0"

	// GenesisFeature labels the genesis entry.
	GenesisFeature = "Genesis"

	// GenesisPayload is the fixed payload of the genesis entry.
	GenesisPayload = "Initial block"
)

// timestampPrecision is the resolution entries are stamped with. PostgreSQL
// timestamptz stores microseconds, so anything finer would not survive a
// round trip through PostgresBackend.
const timestampPrecision = time.Microsecond

// Entry is a single immutable record in the event ledger.
type Entry struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Feature      string    `json:"feature"` // e.g. "Water Simulator", "Crop Planner", "Genesis"
	Payload      any       `json:"payload"`
	PreviousHash string    `json:"previousHash"`
	Hash         string    `json:"hash"`
}

// UnmarshalJSON decodes an entry keeping payload numbers as json.Number, so
// the canonical form (and therefore the hash) is identical to the one
// computed when the entry was appended.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Entry(aux.plain)
	e.Payload = nil
	if len(aux.Payload) > 0 {
		v, err := decodePayload(aux.Payload)
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		e.Payload = v
	}
	return nil
}

// PayloadMap returns the payload as a JSON object, if it is one.
func (e Entry) PayloadMap() (map[string]any, bool) {
	m, ok := e.Payload.(map[string]any)
	return m, ok
}

// HasPayloadKey reports whether the payload is an object containing key.
func (e Entry) HasPayloadKey(key string) bool {
	m, ok := e.PayloadMap()
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// clone returns a copy of e that shares no mutable payload state with it.
func (e Entry) clone() Entry {
	e.Payload = clonePayload(e.Payload)
	return e
}

// ComputeHash recomputes the digest of e from its own fields. It does not
// read e.Hash.
func ComputeHash(e Entry) (string, error) {
	canon, err := canonicalPayload(e.Payload)
	if err != nil {
		return "", err
	}
	return hashFields(e.Index, e.Timestamp, e.Feature, canon, e.PreviousHash), nil
}

// hashFields computes the SHA-256 digest binding an entry's content to its
// position and predecessor. Variable-length fields are length-prefixed so
// no two distinct field tuples share an encoding.
func hashFields(index int, ts time.Time, feature string, payload []byte, prevHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d:%s|%d:%s|%s",
		index, ts.UTC().Format(time.RFC3339Nano),
		len(feature), feature,
		len(payload), payload,
		prevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// newGenesis mints the genesis entry stamped at now.
func newGenesis(now time.Time) (Entry, error) {
	g := Entry{
		Index:        0,
		Timestamp:    now.UTC().Truncate(timestampPrecision),
		Feature:      GenesisFeature,
		Payload:      GenesisPayload,
		PreviousHash: GenesisPreviousHash,
	}
	h, err := ComputeHash(g)
	if err != nil {
		return Entry{}, err
	}
	g.Hash = h
	return g, nil
}

// nextTimestamp returns now truncated to timestampPrecision, or one tick
// after last when the clock has not advanced past it. Entry timestamps are
// therefore strictly increasing even if the wall clock steps backwards.
func nextTimestamp(last, now time.Time) time.Time {
	now = now.UTC().Truncate(timestampPrecision)
	if now.After(last) {
		return now
	}
	return last.Add(timestampPrecision)
}

// normalizePayload converts v into its generic JSON form (maps, slices,
// json.Number, strings, bools, nil) and returns it with its canonical bytes.
func normalizePayload(v any) (any, []byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	norm, err := decodePayload(raw)
	if err != nil {
		return nil, nil, err
	}
	canon, err := encodeCanonical(norm)
	if err != nil {
		return nil, nil, err
	}
	return norm, canon, nil
}

// canonicalPayload returns the canonical encoding of v: compact JSON with
// object keys sorted and no HTML escaping.
func canonicalPayload(v any) ([]byte, error) {
	_, canon, err := normalizePayload(v)
	return canon, err
}

func decodePayload(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data")
	}
	return v, nil
}

func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func clonePayload(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = clonePayload(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = clonePayload(val)
		}
		return s
	default:
		return v
	}
}
