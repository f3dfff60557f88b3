package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketVectors = []byte("vectors")
	keySchema     = []byte("schema")
)

// OpenBolt opens the bolt file at path, creating it and its directory when
// missing.
func OpenBolt(path string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return db, nil
}

// collectionBucket returns the top-level bucket of a collection. It holds
// the schema record and a nested bucket of vectors.
func collectionBucket(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	if tx.Writable() {
		coll, err := tx.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		if _, err := coll.CreateBucketIfNotExists(bucketVectors); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s/%s: %w", name, bucketVectors, err)
		}
		return coll, nil
	}

	coll := tx.Bucket(name)
	if coll == nil {
		return nil, fmt.Errorf("collection bucket %s not found", name)
	}
	return coll, nil
}
