package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("chatline")

// BoltKV keeps every key in a single bbolt bucket. The database stays open for the
// lifetime of the KV; bbolt holds an exclusive file lock while it is open.
type BoltKV struct {
	db     *bolt.DB
	bucket []byte
}

var _ KV = (*BoltKV)(nil)

func NewBoltKV(path string) (*BoltKV, error) {
	if path == "" {
		return nil, errors.New("bolt store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create directory for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open bolt database %s", path)
	}
	ret := &BoltKV{db: db, bucket: defaultBucket}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ret.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not create bolt bucket")
	}
	return ret, nil
}

func (b *BoltKV) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction
		value = string(v)
		found = true
		return nil
	})
	if err != nil {
		return "", false, errors.Wrapf(err, "could not read %s", key)
	}
	return value, found, nil
}

func (b *BoltKV) Set(key string, value string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), []byte(value))
	})
	return errors.Wrapf(err, "could not write %s", key)
}

func (b *BoltKV) Remove(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	return errors.Wrapf(err, "could not remove %s", key)
}

func (b *BoltKV) Keys() ([]string, error) {
	var ret []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, _ []byte) error {
			ret = append(ret, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not list keys")
	}
	return ret, nil
}

func (b *BoltKV) Close() error {
	return b.db.Close()
}
