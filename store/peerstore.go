package store

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/abeychain/spvnode/peerdirectory"
)

var peerPrefix = []byte("p")

// PeerDB is a leveldb-backed peerdirectory.Store (spec.md §4.4 / §6
// PeerStore contract). Records are gob-encoded: none of the pack's
// wire/serialization libraries (btcd/wire, RLP) target arbitrary Go
// structs, and PeerRecord is exactly that, so the standard library's
// struct codec is used here instead of inventing one.
type PeerDB struct {
	db *leveldb.DB
}

// OpenPeerDB opens (creating if absent) the leveldb file at path.
func OpenPeerDB(path string) (*PeerDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "store: open peer db")
	}
	return &PeerDB{db: db}, nil
}

func peerKey(addr string) []byte {
	return append(append([]byte{}, peerPrefix...), []byte(addr)...)
}

// Load returns every persisted PeerRecord.
func (s *PeerDB) Load() ([]peerdirectory.PeerRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer iter.Release()

	var recs []peerdirectory.PeerRecord
	for iter.Next() {
		var rec peerdirectory.PeerRecord
		dec := gob.NewDecoder(bytes.NewReader(iter.Value()))
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrap(err, "store: decode peer record")
		}
		recs = append(recs, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "store: iterate peers")
	}
	return recs, nil
}

// Put persists or overwrites rec.
func (s *PeerDB) Put(rec peerdirectory.PeerRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return errors.Wrap(err, "store: encode peer record")
	}
	if err := s.db.Put(peerKey(rec.Addr), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "store: put peer record")
	}
	return nil
}

// Delete removes the record for addr, if any.
func (s *PeerDB) Delete(addr string) error {
	if err := s.db.Delete(peerKey(addr), &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "store: delete peer record")
	}
	return nil
}

// Close releases the underlying leveldb handle.
func (s *PeerDB) Close() error {
	return s.db.Close()
}
