package trigger

import (
	"encoding/binary"
	"sync"

	"github.com/wavsnet/operator/pkg/kv"
)

const blockTicksTable = "block_ticks"

type blockEntry struct {
	NBlocks    uint64
	StartBlock uint64
	EndBlock   *uint64
}

// BlockIntervalScheduler fires LookupIds whose n_blocks interval divides
// evenly into the current height, per spec §4.E. Per the Open Question
// decision in DESIGN.md, it persists the last height it has already
// processed for its chain so a restart does not require waiting a full
// interval to resynchronize, and a height replayed twice (e.g. after a
// reorg or a duplicate block notification) does not double-fire.
type BlockIntervalScheduler struct {
	mu      sync.Mutex
	chain   string
	store   kv.Store
	entries map[LookupID]blockEntry
	last    uint64
	seeded  bool
}

// NewBlockIntervalScheduler constructs a scheduler for chain, loading
// its persisted last-tick height from store (0 if none recorded yet).
func NewBlockIntervalScheduler(chain string, store kv.Store) (*BlockIntervalScheduler, error) {
	s := &BlockIntervalScheduler{chain: chain, store: store, entries: make(map[LookupID]blockEntry)}
	raw, err := store.Get(blockTicksTable, []byte(chain))
	if err == kv.ErrNotFound {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 8 {
		s.last = binary.BigEndian.Uint64(raw)
		s.seeded = true
	}
	return s, nil
}

// Add registers a block-interval trigger.
func (s *BlockIntervalScheduler) Add(id LookupID, nBlocks, startBlock uint64, endBlock *uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = blockEntry{NBlocks: nBlocks, StartBlock: startBlock, EndBlock: endBlock}
}

// Remove deregisters id.
func (s *BlockIntervalScheduler) Remove(id LookupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Tick returns the LookupIds whose interval condition holds at height,
// and persists height as the new high-water mark. A height at or below
// the already-persisted high-water mark is a no-op (idempotent replay).
func (s *BlockIntervalScheduler) Tick(height uint64) ([]LookupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded && height <= s.last {
		return nil, nil
	}

	var fired []LookupID
	for id, e := range s.entries {
		if height < e.StartBlock {
			continue
		}
		if e.EndBlock != nil && height > *e.EndBlock {
			continue
		}
		if (height-e.StartBlock)%e.NBlocks == 0 {
			fired = append(fired, id)
		}
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	if err := s.store.Set(blockTicksTable, []byte(s.chain), buf); err != nil {
		return nil, err
	}
	s.last = height
	s.seeded = true

	return fired, nil
}
