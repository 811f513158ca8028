package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Variables

var snapshotBucket = []byte("snapshots")

// ErrNotFound is returned by Load if no
// snapshot has been saved for an actor.
var ErrNotFound = errors.New("no snapshot stored")

// Structs

// Store defines what a node needs from
// the place its snapshots live in.
type Store interface {

	// Save persists s under the actor it belongs to,
	// replacing an earlier snapshot of that actor.
	Save(s *crdt.Snapshot) error

	// Load returns the latest snapshot saved for actor.
	Load(actor clock.ActorID) (*crdt.Snapshot, error)

	// Close releases the underlying file.
	Close() error
}

// BoltStore keeps snapshots in a single bbolt
// bucket, keyed by actor id and encoded like a
// full state delta on the wire.
type BoltStore struct {
	db *bolt.DB
}

// Functions

// Open opens or creates the bbolt file at path.
func Open(path string) (*BoltStore, error) {

	err := os.MkdirAll(filepath.Dir(path), 0700)
	if err != nil {
		return nil, errors.Wrapf(err, "creating directory for '%s' failed", path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening snapshot store '%s' failed", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating snapshot bucket failed")
	}

	return &BoltStore{
		db: db,
	}, nil
}

// Save implements Store.
func (s *BoltStore) Save(snap *crdt.Snapshot) error {

	if snap == nil || snap.Actor == "" {
		return errors.Wrap(crdt.ErrSerialization, "snapshot without actor")
	}

	data, err := crdt.EncodeDelta(crdt.FullStateDelta(snap))
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(snap.Actor), data)
	})
	if err != nil {
		return errors.Wrapf(err, "saving snapshot of '%s' failed", snap.Actor)
	}

	return nil
}

// Load implements Store.
func (s *BoltStore) Load(actor clock.ActorID) (*crdt.Snapshot, error) {

	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {

		// Bytes returned by Get are only valid
		// during the transaction.
		if v := tx.Bucket(snapshotBucket).Get([]byte(actor)); v != nil {
			data = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading snapshot of '%s' failed", actor)
	}

	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "actor '%s'", actor)
	}

	d, err := crdt.DecodeDelta(data)
	if err != nil {
		return nil, err
	}

	if d.Kind != crdt.KindFullState || d.State == nil {
		return nil, errors.Wrapf(crdt.ErrSerialization, "stored entry of '%s' is a %s delta", actor, d.Kind)
	}

	return d.State, nil
}

// Actors lists every actor a snapshot is stored for.
func (s *BoltStore) Actors() ([]clock.ActorID, error) {

	actors := make([]clock.ActorID, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(k, _ []byte) error {
			actors = append(actors, clock.ActorID(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshots failed")
	}

	return actors, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
