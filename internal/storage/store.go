package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBucketNotFound = errors.New("storage: bucket not found")
	ErrBucketExists   = errors.New("storage: bucket already exists")
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrObjectExists   = errors.New("storage: object already exists")
	ErrInvalidName    = errors.New("storage: invalid name")
)

// Object is a stored value and its node-local version.
type Object struct {
	Version int64  `json:"version" cbor:"1,keyasint"`
	Value   string `json:"value" cbor:"2,keyasint"`
}

// Store defines the interface for bucket/object storage.
type Store interface {
	// CreateBucket creates an empty bucket. Fails if it already exists.
	CreateBucket(name string) error
	// DeleteBucket removes a bucket and every object in it.
	DeleteBucket(name string) error
	// CreateObject stores a new object. Fails if the bucket is missing or the
	// object already exists.
	CreateObject(bucket, key string, obj Object) error
	// ReadObject returns the stored object.
	ReadObject(bucket, key string) (Object, error)
	// UpdateObject overwrites the value of an existing object. When bump is
	// true the version is incremented. Returns the stored object.
	UpdateObject(bucket, key, value string, bump bool) (Object, error)
	// DeleteObject removes an object.
	DeleteObject(bucket, key string) error
	// Buckets lists bucket names in lexical order.
	Buckets() ([]string, error)
	// Keys lists the object keys of a bucket in lexical order.
	Keys(bucket string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Open builds the backend named by kind.
func Open(kind, dir string) (Store, error) {
	switch kind {
	case "", "fs":
		return NewFileStore(dir)
	case "badger":
		return NewBadgerStore(dir)
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

// ValidateName rejects bucket and key names that are not a single, visible
// path segment.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Object
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buckets: make(map[string]map[string]Object),
	}
}

// CreateBucket creates an empty bucket. It fails if the bucket exists.
func (s *InMemoryStore) CreateBucket(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[name]; exists {
		return ErrBucketExists
	}
	s.buckets[name] = make(map[string]Object)
	return nil
}

// DeleteBucket removes a bucket and every object in it.
func (s *InMemoryStore) DeleteBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buckets[name]; !exists {
		return ErrBucketNotFound
	}
	delete(s.buckets, name)
	return nil
}

// CreateObject stores a new object. It fails if the bucket is missing or the key exists.
func (s *InMemoryStore) CreateObject(bucket, key string, obj Object) error {
	if err := ValidateName(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, exists := s.buckets[bucket]
	if !exists {
		return ErrBucketNotFound
	}
	if _, exists := objects[key]; exists {
		return ErrObjectExists
	}
	objects[key] = obj
	return nil
}

// ReadObject returns the stored object for key.
func (s *InMemoryStore) ReadObject(bucket, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, exists := s.buckets[bucket]
	if !exists {
		return Object{}, ErrBucketNotFound
	}
	obj, exists := objects[key]
	if !exists {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

// UpdateObject overwrites an existing object, bumping its version when bump is set.
func (s *InMemoryStore) UpdateObject(bucket, key, value string, bump bool) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, exists := s.buckets[bucket]
	if !exists {
		return Object{}, ErrBucketNotFound
	}
	obj, exists := objects[key]
	if !exists {
		return Object{}, ErrObjectNotFound
	}
	obj.Value = value
	if bump {
		obj.Version++
	}
	objects[key] = obj
	return obj, nil
}

// DeleteObject removes an object.
func (s *InMemoryStore) DeleteObject(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, exists := s.buckets[bucket]
	if !exists {
		return ErrBucketNotFound
	}
	if _, exists := objects[key]; !exists {
		return ErrObjectNotFound
	}
	delete(objects, key)
	return nil
}

// Buckets returns the bucket names in sorted order.
func (s *InMemoryStore) Buckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Keys returns the keys of a bucket in sorted order.
func (s *InMemoryStore) Keys(bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, exists := s.buckets[bucket]
	if !exists {
		return nil, ErrBucketNotFound
	}
	keys := make([]string, 0, len(objects))
	for key := range objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
