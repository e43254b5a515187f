// Package store maintains the block index: hash to block, depth to hash,
// transaction hash to containing block, and the cached top-block pointer.
// It extends the chain only; reorganization is out of its vocabulary.
package store

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

const blockCacheSize = 2048

var (
	// These are prefixes for db keys. Each map of the persisted layout
	// lives in its own namespace.
	blocksPrefix = []byte("blocks")
	depthPrefix  = []byte("depth")
	txsPrefix    = []byte("txs")
	metaPrefix   = []byte("meta")

	topKey = []byte("top")

	// ErrBlockKnown reports a duplicate submission.
	ErrBlockKnown = errors.New("block already known")
	// ErrCannotLink reports a block that does not extend the current top.
	ErrCannotLink = errors.New("block does not extend the top block")
	// ErrInconsistent reports persistent indexes that disagree with each
	// other. Fatal at load.
	ErrInconsistent = errors.New("blockchain store is inconsistent")
	// ErrNotFound mirrors the database sentinel for lookups.
	ErrNotFound = database.ErrNotFound
)

// Store indexes committed blocks. Writes are staged into the backing
// database; transactional visibility (batching, commit) belongs to the
// caller that owns the database.
type Store struct {
	mu sync.RWMutex

	blocksDB database.Database
	depthDB  database.Database
	txsDB    database.Database
	metaDB   database.Database

	blkCache cache.Cacher

	top *chain.Block
}

// New returns a store over [base], carving out one prefixed namespace per
// index.
func New(base database.Database) *Store {
	return &Store{
		blocksDB: prefixdb.New(blocksPrefix, base),
		depthDB:  prefixdb.New(depthPrefix, base),
		txsDB:    prefixdb.New(txsPrefix, base),
		metaDB:   prefixdb.New(metaPrefix, base),
		blkCache: &cache.LRU{Size: blockCacheSize},
	}
}

// Load restores the top pointer from disk and cross-checks the indexes.
// An empty store loads with a nil top; any partial or contradictory state
// is ErrInconsistent and aborts initialization.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawTop, err := s.metaDB.Get(topKey)
	if err == database.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	topHash, err := types.HashFromBytes(rawTop)
	if err != nil {
		return ErrInconsistent
	}
	top, err := s.getBlock(topHash)
	if err != nil {
		return ErrInconsistent
	}
	indexed, err := s.depthDB.Get(depthKey(top.Depth()))
	if err != nil {
		return ErrInconsistent
	}
	if h, err := types.HashFromBytes(indexed); err != nil || h != topHash {
		return ErrInconsistent
	}
	if top.Depth() > 0 {
		if _, err := s.getBlock(top.PrevHash()); err != nil {
			return ErrInconsistent
		}
	}
	s.top = top
	return nil
}

// Empty reports whether genesis has been installed yet.
func (s *Store) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.top == nil
}

// InstallGenesis writes the fixed first block into an empty store.
func (s *Store) InstallGenesis(genesis *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.top != nil {
		return ErrBlockKnown
	}
	if err := s.writeBlock(genesis); err != nil {
		return err
	}
	s.top = genesis
	return nil
}

// TopBlock returns the current tip. The store must be loaded.
func (s *Store) TopBlock() *chain.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.top
}

// HasBlock reports whether [h] names a committed block.
func (s *Store) HasBlock(h types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.blkCache.Get(h); ok {
		return true
	}
	ok, err := s.blocksDB.Has(h.Bytes())
	return err == nil && ok
}

// GetBlock returns the committed block with hash [h].
func (s *Store) GetBlock(h types.Hash) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBlock(h)
}

func (s *Store) getBlock(h types.Hash) (*chain.Block, error) {
	if cached, ok := s.blkCache.Get(h); ok {
		return cached.(*chain.Block), nil
	}
	raw, err := s.blocksDB.Get(h.Bytes())
	if err != nil {
		return nil, err
	}
	b, err := chain.DecodeBlock(codec.NewReader(raw))
	if err != nil {
		return nil, ErrInconsistent
	}
	s.blkCache.Put(h, b)
	return b, nil
}

// GetBlockHashByDepth resolves the canonical block hash at [depth].
func (s *Store) GetBlockHashByDepth(depth uint64) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.depthDB.Get(depthKey(depth))
	if err != nil {
		return types.NullHash, err
	}
	return types.HashFromBytes(raw)
}

// GetTransaction finds a committed transaction and the hash of the block
// holding it.
func (s *Store) GetTransaction(h types.Hash) (*chain.Transaction, types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.txsDB.Get(h.Bytes())
	if err != nil {
		return nil, types.NullHash, err
	}
	r := codec.NewReader(raw)
	rawBlockHash, err := r.ReadFixed(types.HashLen)
	if err != nil {
		return nil, types.NullHash, ErrInconsistent
	}
	blockHash, _ := types.HashFromBytes(rawBlockHash)
	if _, err := r.ReadUint32(); err != nil {
		return nil, types.NullHash, ErrInconsistent
	}
	b, err := s.getBlock(blockHash)
	if err != nil {
		return nil, types.NullHash, ErrInconsistent
	}
	tx := b.Transactions().Find(h)
	if tx == nil {
		return nil, types.NullHash, ErrInconsistent
	}
	return tx, blockHash, nil
}

// HasTransaction reports whether [h] names a transaction in any committed
// block.
func (s *Store) HasTransaction(h types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.txsDB.Has(h.Bytes())
	return err == nil && ok
}

// TryAddBlock appends [b] to the chain. Only structural placement is
// checked here: duplicates are ErrBlockKnown, anything that is not
// top.depth+1 linked to the top hash is ErrCannotLink. Signature and state
// validation happen in the engine before this call.
func (s *Store) TryAddBlock(b *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := b.Hash()
	if ok, err := s.blocksDB.Has(h.Bytes()); err == nil && ok {
		return ErrBlockKnown
	}
	if s.top == nil {
		return ErrCannotLink
	}
	if b.Depth() != s.top.Depth()+1 || b.PrevHash() != s.top.Hash() {
		return ErrCannotLink
	}
	if err := s.writeBlock(b); err != nil {
		return err
	}
	s.top = b
	return nil
}

func (s *Store) writeBlock(b *chain.Block) error {
	h := b.Hash()
	w := codec.NewWriter()
	b.EncodeTo(w)
	if err := s.blocksDB.Put(h.Bytes(), w.Bytes()); err != nil {
		return err
	}
	if err := s.depthDB.Put(depthKey(b.Depth()), h.Bytes()); err != nil {
		return err
	}
	for i, tx := range b.Transactions().List() {
		entry := codec.NewWriter()
		entry.WriteFixed(h.Bytes())
		entry.WriteUint32(uint32(i))
		if err := s.txsDB.Put(tx.Hash().Bytes(), entry.Bytes()); err != nil {
			return err
		}
	}
	if err := s.metaDB.Put(topKey, h.Bytes()); err != nil {
		return err
	}
	s.blkCache.Put(h, b)
	return nil
}

func depthKey(depth uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], depth)
	return k[:]
}
