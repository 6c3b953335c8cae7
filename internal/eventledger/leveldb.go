package eventledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var entryKeyPrefix = []byte("entry/")

// LevelDBBackend is an append-only Backend: each entry is written exactly
// once under a zero-padded index key and never rewritten.
type LevelDBBackend struct {
	db  *leveldb.DB
	dir string
}

// OpenLevelDBBackend opens (or creates) the LevelDB database at dir.
func OpenLevelDBBackend(dir string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &LevelDBBackend{db: db, dir: dir}, nil
}

func (b *LevelDBBackend) String() string { return "leveldb:" + b.dir }

func entryKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryKeyPrefix, index))
}

// Load implements Backend.
func (b *LevelDBBackend) Load(_ context.Context) ([]Entry, error) {
	iter := b.db.NewIterator(util.BytesPrefix(entryKeyPrefix), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, &CorruptChainError{
				Source: b.String(),
				Index:  len(entries),
				Err:    fmt.Errorf("decode %s: %w", iter.Key(), err),
			}
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate leveldb: %w", err)
	}
	return entries, nil
}

// Persist implements Backend. Only the tail of chain is written; the write
// is refused if that index is already present.
func (b *LevelDBBackend) Persist(_ context.Context, chain []Entry) error {
	if len(chain) == 0 {
		return fmt.Errorf("persist: empty chain")
	}
	tail := chain[len(chain)-1]
	key := entryKey(tail.Index)

	exists, err := b.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("check leveldb key: %w", err)
	}
	if exists {
		return fmt.Errorf("entry %d already persisted", tail.Index)
	}

	data, err := json.Marshal(tail)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := b.db.Put(key, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put leveldb entry: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *LevelDBBackend) Close() error { return b.db.Close() }
