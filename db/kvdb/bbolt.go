package kvdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/logger"
	bolt "go.etcd.io/bbolt"
)

type BoltDB struct {
	store  *bolt.DB
	logger logger.Logger
}

func New(logger logger.Logger, cfg *config.Config) (*BoltDB, error) {
	kvDBPath := cfg.GetKVDBPath()
	if err := os.MkdirAll(filepath.Dir(kvDBPath), 0755); err != nil {
		logger.Error("failed to create key-value database directory", "err", err.Error(), "path", kvDBPath)
		return nil, fmt.Errorf("failed to create key-value database directory: %w", err)
	}

	store, err := bolt.Open(kvDBPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		logger.Error("failed to open database", "err", err.Error(), "path", kvDBPath)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	boltDB := &BoltDB{
		store:  store,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

func (b *BoltDB) initBuckets() error {
	return b.store.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				b.logger.Error("failed to create bucket", "bucket", name, "err", err.Error())
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (b *BoltDB) Set(bucketName string, key string, value []byte) error {
	return b.SetMany([]Entry{{Bucket: bucketName, Key: key, Value: value}})
}

// SetMany writes all entries in a single transaction.
func (b *BoltDB) SetMany(entries []Entry) error {
	for _, entry := range entries {
		if err := b.checkKey(entry.Key); err != nil {
			return err
		}
	}

	return b.store.Update(func(tx *bolt.Tx) error {
		for _, entry := range entries {
			bucket, err := b.bucket(tx, entry.Bucket)
			if err != nil {
				return err
			}

			if err := bucket.Put([]byte(entry.Key), entry.Value); err != nil {
				b.logger.Error("failed to set key", "bucket", entry.Bucket, "key", entry.Key, "err", err.Error())
				return fmt.Errorf("failed to set key %s: %w", entry.Key, err)
			}
		}
		return nil
	})
}

func (b *BoltDB) Get(bucketName string, key string) ([]byte, error) {
	if err := b.checkKey(key); err != nil {
		return nil, err
	}

	var value []byte
	err := b.store.View(func(tx *bolt.Tx) error {
		bucket, err := b.bucket(tx, bucketName)
		if err != nil {
			return err
		}

		v := bucket.Get([]byte(key))
		if v == nil {
			return &NotFoundError{Bucket: bucketName, Key: key}
		}

		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})

	if err != nil {
		var notFoundErr *NotFoundError
		if errors.As(err, &notFoundErr) {
			b.logger.Debug("key not found", "bucket", bucketName, "key", key)
		}
		return nil, err
	}

	return value, nil
}

func (b *BoltDB) Delete(bucketName string, key string) error {
	return b.DeleteMany([]Entry{{Bucket: bucketName, Key: key}})
}

func (b *BoltDB) DeleteMany(entries []Entry) error {
	for _, entry := range entries {
		if err := b.checkKey(entry.Key); err != nil {
			return err
		}
	}

	return b.store.Update(func(tx *bolt.Tx) error {
		for _, entry := range entries {
			bucket, err := b.bucket(tx, entry.Bucket)
			if err != nil {
				return err
			}

			if err := bucket.Delete([]byte(entry.Key)); err != nil {
				b.logger.Error("failed to delete key", "bucket", entry.Bucket, "key", entry.Key, "err", err.Error())
				return fmt.Errorf("failed to delete key %s: %w", entry.Key, err)
			}
		}
		return nil
	})
}

// ForEach visits every key of the bucket inside one read transaction, so the
// callback sees a consistent snapshot. Values are only valid during the call.
func (b *BoltDB) ForEach(bucketName string, fn func(key string, value []byte) error) error {
	return b.store.View(func(tx *bolt.Tx) error {
		bucket, err := b.bucket(tx, bucketName)
		if err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

func (b *BoltDB) NextSequence(bucketName string) (uint64, error) {
	var id uint64
	err := b.store.Update(func(tx *bolt.Tx) error {
		bucket, err := b.bucket(tx, bucketName)
		if err != nil {
			return err
		}

		id, err = bucket.NextSequence()
		if err != nil {
			b.logger.Error("failed to get next sequence", "bucket", bucketName, "err", err.Error())
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		return nil
	})

	return id, err
}

func (b *BoltDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

func (b *BoltDB) bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(name))
	if bucket == nil {
		b.logger.Error("bucket not found", "bucket", name)
		return nil, fmt.Errorf("bucket not found: %s", name)
	}
	return bucket, nil
}

func (b *BoltDB) checkKey(key string) error {
	if key == "" {
		b.logger.Error("key cannot be empty", "key", key)
		return &InvalidKeyError{
			Key:    key,
			Reason: "key cannot be empty",
		}
	}
	return nil
}
