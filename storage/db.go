package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// Database is a generic interface for the key-value store backing the engine
// state. It lets the purchase engine run against an in-memory store in tests
// and LevelDB in production, while exposing the trie database handle that the
// state trie operates on.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	backend ethdb.Database
	trieDB  *triedb.Database
}

func NewMemDB() *MemDB {
	backend := rawdb.NewMemoryDatabase()
	return &MemDB{
		backend: backend,
		trieDB:  triedb.NewDatabase(backend, triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.backend.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	return db.backend.Get(key)
}

func (db *MemDB) Has(key []byte) (bool, error) {
	return db.backend.Has(key)
}

func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.backend.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB. The raw handle is
// bridged into go-ethereum's ethdb interfaces (see kvstore.go) so the state
// trie persists into the same database file as the rest of the engine state.
type LevelDB struct {
	db     *leveldb.DB
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	backend := rawdb.NewDatabase(&levelStore{db: db})
	return &LevelDB{
		db:     db,
		trieDB: triedb.NewDatabase(backend, triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key, nil)
}

// Has reports whether a key exists without fetching its value.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
