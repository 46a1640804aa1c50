// headerstore.go is grounded on onoy42-go-abey's use of
// github.com/syndtr/goleveldb as its on-disk key-value engine (present in
// its go.mod); the pack's only retrieved ethdb/leveldb wrapper source was
// test-only, so the on-disk layout here talks to syndtr/goleveldb's own
// documented *leveldb.DB API directly rather than re-deriving an
// intermediate wrapper type that isn't actually in evidence.
package store

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// headerRecordSize is the serialized size of a wire.BlockHeader: version(4)
// + prevBlock(32) + merkleRoot(32) + timestamp(4) + bits(4) + nonce(4).
const headerRecordSize = 80

var headerPrefix = []byte("h")

// HeaderDB is a leveldb-backed implementation of chain.HeaderStore
// (spec.md §6 HeaderStore contract): load(), append(batch), rewind(height),
// flush(). Headers are keyed by big-endian *absolute chain height* (not a
// store-local sequence number) so that a rewind(to_height) call, which
// chain.Chain always issues with an anchor-relative absolute height, deletes
// exactly the keys it means to. next is the absolute height of the next
// header Flush will persist; it starts at anchor+1 and is kept in sync by
// Load (to one past the highest persisted key) and Rewind (to toHeight+1).
type HeaderDB struct {
	db     *leveldb.DB
	anchor uint32
	next   uint32
	dirty  []wire.BlockHeader
}

// OpenHeaderDB opens (creating if absent) the leveldb file at path. anchor is
// the chain's anchor checkpoint height: the store has no header at or below
// it, so the first persisted header is keyed anchor+1.
func OpenHeaderDB(path string, anchor uint32) (*HeaderDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "store: open header db")
	}
	return &HeaderDB{db: db, anchor: anchor, next: anchor + 1}, nil
}

func headerKey(height uint32) []byte {
	key := make([]byte, len(headerPrefix)+4)
	copy(key, headerPrefix)
	binary.BigEndian.PutUint32(key[len(headerPrefix):], height)
	return key
}

// Load returns every header persisted, in ascending height order (leveldb
// iterates big-endian keys in ascending byte order, which is ascending
// numeric height order here).
func (s *HeaderDB) Load() ([]wire.BlockHeader, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	next := s.anchor + 1
	var headers []wire.BlockHeader
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(headerPrefix)+4 || string(key[:len(headerPrefix)]) != string(headerPrefix) {
			continue
		}
		height := binary.BigEndian.Uint32(key[len(headerPrefix):])
		var h wire.BlockHeader
		if err := h.Deserialize(bytes.NewReader(iter.Value())); err != nil {
			return nil, errors.Wrap(err, "store: deserialize header")
		}
		headers = append(headers, h)
		next = height + 1
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "store: iterate headers")
	}
	s.next = next
	return headers, nil
}

// Append buffers batch for the next Flush; it does not hit disk itself so a
// caller driving many small extends isn't forced to fsync on every one.
func (s *HeaderDB) Append(batch []wire.BlockHeader) error {
	s.dirty = append(s.dirty, batch...)
	return nil
}

// Rewind deletes every persisted header at or above toHeight+1, transactionally:
// the whole range-delete is one leveldb batch, so a crash mid-rewind leaves
// the store at either the old or new tip, never a partial one.
func (s *HeaderDB) Rewind(toHeight uint32) error {
	s.dirty = nil

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(headerPrefix)+4 {
			continue
		}
		height := binary.BigEndian.Uint32(key[len(headerPrefix):])
		if height > toHeight {
			batch.Delete(append([]byte(nil), key...))
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "store: iterate for rewind")
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "store: rewind")
	}
	s.next = toHeight + 1
	return nil
}

// Flush persists every buffered header with a single fsync'd batch write
// (spec.md §5 Cancellation: no partial writes to the store).
func (s *HeaderDB) Flush() error {
	if len(s.dirty) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	height := s.next
	for _, h := range s.dirty {
		var buf bytes.Buffer
		buf.Grow(headerRecordSize)
		if err := h.Serialize(&buf); err != nil {
			return errors.Wrap(err, "store: serialize header")
		}
		batch.Put(headerKey(height), buf.Bytes())
		height++
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "store: flush")
	}
	s.next = height
	s.dirty = nil
	return nil
}

// Close releases the underlying leveldb handle.
func (s *HeaderDB) Close() error {
	return s.db.Close()
}
