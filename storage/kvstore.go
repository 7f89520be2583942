package storage

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelStore adapts a raw goleveldb handle to go-ethereum's key-value store
// interfaces so the trie database can share the engine's LevelDB file. The
// shape mirrors go-ethereum's historical ethdb/leveldb wrapper.
type levelStore struct {
	db *leveldb.DB
}

func (s *levelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	return s.db.Get(key, nil)
}

func (s *levelStore) Put(key []byte, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *levelStore) DeleteRange(start, end []byte) error {
	iter := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) NewBatch() ethdb.Batch {
	return &levelBatch{db: s.db, batch: new(leveldb.Batch)}
}

func (s *levelStore) NewBatchWithSize(size int) ethdb.Batch {
	return &levelBatch{db: s.db, batch: leveldb.MakeBatch(size)}
}

func (s *levelStore) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return s.db.NewIterator(bytesPrefixRange(prefix, start), nil)
}

func (s *levelStore) Stat() (string, error) {
	return s.db.GetProperty("leveldb.stats")
}

func (s *levelStore) SyncKeyValue() error {
	// goleveldb writes are durable once the write batch returns; there is no
	// separate WAL sync to trigger.
	return nil
}

func (s *levelStore) Compact(start []byte, limit []byte) error {
	return s.db.CompactRange(util.Range{Start: start, Limit: limit})
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

// bytesPrefixRange returns a key range that satisfies both a prefix and a
// start position, matching the semantics ethdb expects from NewIterator.
func bytesPrefixRange(prefix, start []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return r
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) DeleteRange(start, end []byte) error {
	iter := b.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		b.batch.Delete(key)
		b.size += len(key)
	}
	return iter.Error()
}

func (b *levelBatch) ValueSize() int {
	return b.size
}

func (b *levelBatch) Write() error {
	return b.db.Write(b.batch, nil)
}

func (b *levelBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}

func (b *levelBatch) Replay(w ethdb.KeyValueWriter) error {
	replay := &batchReplayer{writer: w}
	if err := b.batch.Replay(replay); err != nil {
		return err
	}
	return replay.err
}

type batchReplayer struct {
	writer ethdb.KeyValueWriter
	err    error
}

func (r *batchReplayer) Put(key, value []byte) {
	if r.err != nil {
		return
	}
	r.err = r.writer.Put(key, value)
}

func (r *batchReplayer) Delete(key []byte) {
	if r.err != nil {
		return
	}
	r.err = r.writer.Delete(key)
}
