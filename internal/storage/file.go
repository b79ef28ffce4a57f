package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps each bucket as a directory under root and each object as
// a JSON file named after its key.
type FileStore struct {
	root string
	mu   sync.Mutex // serializes read-modify-write on objects
}

// NewFileStore creates root if needed and returns a store rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// CreateBucket creates the bucket directory. It fails if the bucket exists.
func (s *FileStore) CreateBucket(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Mkdir(s.bucketPath(name), 0o755)
	if errors.Is(err, fs.ErrExist) {
		return ErrBucketExists
	}
	return err
}

// DeleteBucket removes the bucket directory and its objects.
func (s *FileStore) DeleteBucket(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.requireBucket(name); err != nil {
		return err
	}
	return os.RemoveAll(s.bucketPath(name))
}

// CreateObject writes a new object file. It fails if the bucket is missing or the key exists.
func (s *FileStore) CreateObject(bucket, key string, obj Object) error {
	if err := ValidateName(key); err != nil {
		return err
	}
	if err := s.requireBucket(bucket); err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}

	f, err := os.OpenFile(s.objectPath(bucket, key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrObjectExists
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadObject reads the object file for key.
func (s *FileStore) ReadObject(bucket, key string) (Object, error) {
	if err := ValidateName(key); err != nil {
		return Object{}, err
	}
	if err := s.requireBucket(bucket); err != nil {
		return Object{}, err
	}
	return s.readObject(bucket, key)
}

// UpdateObject rewrites an existing object file, bumping its version when bump is set.
func (s *FileStore) UpdateObject(bucket, key, value string, bump bool) (Object, error) {
	if err := ValidateName(key); err != nil {
		return Object{}, err
	}
	if err := s.requireBucket(bucket); err != nil {
		return Object{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.readObject(bucket, key)
	if err != nil {
		return Object{}, err
	}
	obj.Value = value
	if bump {
		obj.Version++
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return Object{}, fmt.Errorf("encode object: %w", err)
	}
	// Write beside the target and rename so readers never see a torn file.
	tmp := filepath.Join(s.root, bucket, ".tmp-"+key)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmp, s.objectPath(bucket, key)); err != nil {
		os.Remove(tmp)
		return Object{}, err
	}
	return obj, nil
}

// DeleteObject removes an object file.
func (s *FileStore) DeleteObject(bucket, key string) error {
	if err := ValidateName(key); err != nil {
		return err
	}
	if err := s.requireBucket(bucket); err != nil {
		return err
	}
	err := os.Remove(s.objectPath(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	return err
}

// Buckets lists the bucket directories in sorted order.
func (s *FileStore) Buckets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Keys lists the object files of a bucket in sorted order.
func (s *FileStore) Keys(bucket string) ([]string, error) {
	if err := s.requireBucket(bucket); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.bucketPath(bucket))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases nothing; files are not held open.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readObject(bucket, key string) (Object, error) {
	data, err := os.ReadFile(s.objectPath(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrObjectNotFound
	}
	if err != nil {
		return Object{}, err
	}
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return Object{}, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (s *FileStore) requireBucket(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	info, err := os.Stat(s.bucketPath(name))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return ErrBucketNotFound
	}
	return err
}

func (s *FileStore) bucketPath(name string) string {
	return filepath.Join(s.root, name)
}

func (s *FileStore) objectPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, key)
}
