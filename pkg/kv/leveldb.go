package kv

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// LevelStore is a Store backed by cometbft-db's goleveldb driver,
// grounded on certenIO-certen-validator's KVAdapter wrapping of dbm.DB,
// extended with the ordered range scans dbm.DB's Iterator already
// supports natively.
type LevelStore struct {
	db dbm.DB
}

// OpenLevelStore opens (creating if absent) a goleveldb database rooted
// at dir/<name>.db.
func OpenLevelStore(name, dir string) (*LevelStore, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("kv: open leveldb store %q in %q: %w", name, dir, err)
	}
	return &LevelStore{db: db}, nil
}

// NewLevelStore wraps an already-open dbm.DB, e.g. for a memdb in tests.
func NewLevelStore(db dbm.DB) *LevelStore {
	return &LevelStore{db: db}
}

func (s *LevelStore) Get(table string, key []byte) ([]byte, error) {
	v, err := s.db.Get(tableKey(table, key))
	if err != nil {
		return nil, fmt.Errorf("kv: get %s/%x: %w", table, key, err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *LevelStore) Set(table string, key, value []byte) error {
	if err := s.db.SetSync(tableKey(table, key), value); err != nil {
		return fmt.Errorf("kv: set %s/%x: %w", table, key, err)
	}
	return nil
}

func (s *LevelStore) Delete(table string, key []byte) error {
	if err := s.db.DeleteSync(tableKey(table, key)); err != nil {
		return fmt.Errorf("kv: delete %s/%x: %w", table, key, err)
	}
	return nil
}

// tableUpperBound returns an exclusive upper bound covering every key in
// table, by bumping the separator byte that tableKey appends.
func tableUpperBound(table string) []byte {
	prefix := tablePrefix(table)
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	upper[len(upper)-1] = 0x01
	return upper
}

func (s *LevelStore) Range(table string, r Range) ([]Entry, error) {
	lower := tablePrefix(table)
	if r.Start.Kind != Unbounded {
		lower = tableKey(table, r.Start.Key)
	}
	upper := tableUpperBound(table)

	it, err := s.db.Iterator(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("kv: range %s: %w", table, err)
	}
	defer it.Close()

	prefix := tablePrefix(table)
	var entries []Entry
	for ; it.Valid(); it.Next() {
		full := it.Key()
		if len(full) < len(prefix) {
			continue
		}
		key := full[len(prefix):]
		if !withinLowerBound(key, r.Start) {
			continue
		}
		if !withinUpperBound(key, r.End) {
			break
		}
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		k := make([]byte, len(key))
		copy(k, key)
		entries = append(entries, Entry{Key: k, Value: value})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("kv: range %s iteration: %w", table, err)
	}
	return entries, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
