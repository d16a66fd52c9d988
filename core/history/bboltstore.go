package history

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("rtpscore-history")

// BoltStore is the reference DurableStore backing TRANSIENT/PERSISTENT
// durability (spec.md §3): one bbolt database file, one bucket, keyed by
// durableKey(writer, sn). Grounded on the teacher's own choice of bbolt for
// its embedded key-value needs (jackc/pgx covers the server's relational
// store; bbolt is the pack's embedded-KV answer).
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

var errNotFound = errors.New("history: key not found")

func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return errNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
