package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltFile is the file the default engine creates under its prefix.
const BoltFile = "sofa.bolt"

// boltEngine stores each database as a top-level bucket of one bolt file.
type boltEngine struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bolt file under opts.Prefix.
// The directory must already exist.
func OpenBolt(_ context.Context, opts Options) (Backend, error) {
	path := filepath.Join(opts.Prefix, BoltFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("backend: open bolt %s: %w", path, err)
	}
	return newDocStore("bolt", &boltEngine{db: db}), nil
}

func (b *boltEngine) createDB(_ context.Context, name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			return ErrDBExists
		}
		_, err := tx.CreateBucket([]byte(name))
		return err
	})
}

func (b *boltEngine) dropDB(_ context.Context, name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return ErrDBNotFound
		}
		return tx.DeleteBucket([]byte(name))
	})
}

func (b *boltEngine) listDBs(_ context.Context) ([]string, error) {
	out := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}

func (b *boltEngine) get(_ context.Context, name, id string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return ErrDBNotFound
		}
		v := bkt.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *boltEngine) put(_ context.Context, name, id string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return ErrDBNotFound
		}
		return bkt.Put([]byte(id), value)
	})
}

func (b *boltEngine) scan(_ context.Context, name string, fn func(string, []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return ErrDBNotFound
		}
		return bkt.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

func (b *boltEngine) close() error {
	return b.db.Close()
}
