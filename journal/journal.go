// Package journal keeps a persistent record of the traffic exchanged with the peer.
package journal

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/outofforest/zacp/transport"
	"github.com/outofforest/zacp/wire"
)

var keyPrefix = []byte("t/")

// Direction tells if frame was received or sent.
type Direction string

// Directions.
const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is a single recorded frame.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Direction Direction `json:"direction"`
	Atom      wire.Atom `json:"atom"`
	Time      time.Time `json:"time"`
	Payload   []byte    `json:"payload"`
}

// Journal stores frames in badger under sequential keys.
type Journal struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// Open opens journal stored in the directory. Empty directory means in-memory journal.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}

	seq, err := lastSeq(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{
		db:  db,
		seq: seq,
	}, nil
}

// Record appends frame to the journal.
func (j *Journal) Record(direction Direction, frame transport.Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Seq:       j.seq + 1,
		Direction: direction,
		Atom:      frame.Atom,
		Time:      time.Now().UTC(),
		Payload:   frame.Payload,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.Seq), value)
	}); err != nil {
		return errors.Wrap(err, "storing journal entry")
	}

	j.seq = entry.Seq
	return nil
}

// Entries returns all the entries in order of recording.
func (j *Journal) Entries() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, errors.WithStack(err)
}

// Close closes journal.
func (j *Journal) Close() error {
	return errors.WithStack(j.db.Close())
}

func key(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

func lastSeq(db *badger.DB) (uint64, error) {
	var seq uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(key(^uint64(0)))
		if it.ValidForPrefix(keyPrefix) {
			seq = binary.BigEndian.Uint64(it.Item().Key()[len(keyPrefix):])
		}
		return nil
	})
	return seq, errors.WithStack(err)
}
