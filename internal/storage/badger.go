package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// BadgerStore implements Store on BadgerDB. Buckets are marker keys
// "b/<bucket>" and objects live under "o/<bucket>/<key>" as CBOR.
type BadgerStore struct {
	db *badger.DB
	mu sync.Mutex // serializes writers so transactions never conflict
}

// NewBadgerStore opens a Badger database in dir. An empty dir keeps the
// database in memory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// CreateBucket records a bucket marker. It fails if the bucket exists.
func (s *BadgerStore) CreateBucket(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(bucketKey(name)); err == nil {
			return ErrBucketExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(bucketKey(name), nil)
	})
}

// DeleteBucket drops the bucket marker and every object under its prefix.
func (s *BadgerStore) DeleteBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireBucket(txn, name); err != nil {
			return err
		}
		return txn.Delete(bucketKey(name))
	})
	if err != nil {
		return err
	}
	return s.db.DropPrefix(objectPrefix(name))
}

// CreateObject stores a new object. It fails if the bucket is missing or the key exists.
func (s *BadgerStore) CreateObject(bucket, key string, obj Object) error {
	if err := ValidateName(key); err != nil {
		return err
	}
	data, err := cbor.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireBucket(txn, bucket); err != nil {
			return err
		}
		if _, err := txn.Get(objectKey(bucket, key)); err == nil {
			return ErrObjectExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(objectKey(bucket, key), data)
	})
}

// ReadObject decodes the stored object for key.
func (s *BadgerStore) ReadObject(bucket, key string) (Object, error) {
	var obj Object
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		obj, err = readObject(txn, bucket, key)
		return err
	})
	return obj, err
}

// UpdateObject overwrites an existing object in one transaction, bumping its version when bump is set.
func (s *BadgerStore) UpdateObject(bucket, key, value string, bump bool) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var obj Object
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if obj, err = readObject(txn, bucket, key); err != nil {
			return err
		}
		obj.Value = value
		if bump {
			obj.Version++
		}
		data, err := cbor.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encode object: %w", err)
		}
		return txn.Set(objectKey(bucket, key), data)
	})
	if err != nil {
		return Object{}, err
	}
	return obj, nil
}

// DeleteObject removes an object.
func (s *BadgerStore) DeleteObject(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := readObject(txn, bucket, key); err != nil {
			return err
		}
		return txn.Delete(objectKey(bucket, key))
	})
}

// Buckets returns the bucket names in sorted order.
func (s *BadgerStore) Buckets() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range scanKeys(txn, []byte("b/")) {
			names = append(names, strings.TrimPrefix(k, "b/"))
		}
		return nil
	})
	return names, err
}

// Keys returns the keys of a bucket in sorted order.
func (s *BadgerStore) Keys(bucket string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		if err := requireBucket(txn, bucket); err != nil {
			return err
		}
		prefix := objectPrefix(bucket)
		for _, k := range scanKeys(txn, prefix) {
			keys = append(keys, strings.TrimPrefix(k, string(prefix)))
		}
		return nil
	})
	return keys, err
}

// Close closes the underlying badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func readObject(txn *badger.Txn, bucket, key string) (Object, error) {
	if err := requireBucket(txn, bucket); err != nil {
		return Object{}, err
	}
	item, err := txn.Get(objectKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Object{}, ErrObjectNotFound
	}
	if err != nil {
		return Object{}, err
	}

	var obj Object
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &obj)
	})
	return obj, err
}

func requireBucket(txn *badger.Txn, name string) error {
	_, err := txn.Get(bucketKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrBucketNotFound
	}
	return err
}

// scanKeys returns keys with prefix in byte order.
func scanKeys(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

func bucketKey(name string) []byte {
	return []byte("b/" + name)
}

func objectPrefix(bucket string) []byte {
	return []byte("o/" + bucket + "/")
}

func objectKey(bucket, key string) []byte {
	return append(objectPrefix(bucket), key...)
}
