package eventledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Backend is the durable representation of a chain. A Backend is owned by
// exactly one ChainStore in one process.
type Backend interface {
	// Load returns the persisted chain in index order, or an empty slice if
	// nothing has been persisted yet. Data that exists but cannot be decoded
	// is reported as a *CorruptChainError.
	Load(ctx context.Context) ([]Entry, error)

	// Persist durably records chain, whose last element is the entry being
	// appended. Implementations may rewrite the whole chain or write only
	// the tail, but must be all-or-nothing and must not retain chain.
	Persist(ctx context.Context, chain []Entry) error

	// Close releases the backend's resources.
	Close() error

	// String names the backend in logs and errors.
	String() string
}

// FileBackend stores the chain as an indented JSON array, rewritten in full
// on every append. Writes go through a temporary file and a rename, so a
// failed or interrupted write leaves the previous chain in place.
type FileBackend struct {
	path string
}

// NewFileBackend returns a FileBackend persisting to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) String() string { return b.path }

// Load implements Backend. A missing file means no chain has been persisted;
// a file that exists but holds no entries is corrupt.
func (b *FileBackend) Load(_ context.Context) ([]Entry, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}

	entries, err := DecodeChain(data)
	if err != nil {
		return nil, &CorruptChainError{Source: b.path, Index: -1, Err: err}
	}
	if len(entries) == 0 {
		return nil, &CorruptChainError{Source: b.path, Index: -1, Err: errors.New("chain file holds no entries")}
	}
	return entries, nil
}

// Persist implements Backend.
func (b *FileBackend) Persist(_ context.Context, chain []Entry) error {
	data, err := EncodeChain(chain)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write chain file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("sync chain file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chain file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace chain file: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// EncodeChain renders entries in the canonical file format: an indented JSON
// array with field names index, timestamp, feature, payload, previousHash
// and hash.
func EncodeChain(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode chain: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeChain parses data produced by EncodeChain. It does not verify the
// chain; see VerifyEntries.
func DecodeChain(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	return entries, nil
}
