// Package objectstore implements a local-disk object store for SSTable
// payloads: each object id maps to one file under a root directory, sharded
// into subdirectories to keep any one directory from growing unbounded, with
// an LRU cache of open file handles so repeated reads against hot objects
// don't pay a re-open cost.
package objectstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const shardCount = 256

// Store is a local filesystem object store rooted at a data directory.
type Store struct {
	root    string
	handles *lru.Cache // objectID -> *os.File, read-only handles
	mu      sync.Mutex
}

// New returns a Store rooted at root, creating it if necessary. handleCacheSize
// bounds the number of concurrently open read handles.
func New(root string, handleCacheSize int) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create root: %w", err)
	}
	cache, err := lru.NewWithEvict(handleCacheSize, func(key, value interface{}) {
		if f, ok := value.(*os.File); ok {
			f.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create handle cache: %w", err)
	}
	return &Store{root: root, handles: cache}, nil
}

func (s *Store) path(objectID uint64) string {
	shard := strconv.Itoa(int(objectID % shardCount))
	return filepath.Join(s.root, shard, strconv.FormatUint(objectID, 10)+".sst")
}

// Upload writes data as the object identified by objectID. Writes go to a
// temp file in the same shard directory and are renamed into place so a
// concurrent reader never observes a partially written object.
func (s *Store) Upload(objectID uint64, data []byte) error {
	dst := s.path(objectID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("objectstore: create shard dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("objectstore: write temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("objectstore: rename into place: %w", err)
	}
	return nil
}

// Read returns the full contents of objectID.
func (s *Store) Read(objectID uint64) ([]byte, error) {
	f, err := s.open(objectID)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("objectstore: seek: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read: %w", err)
	}
	return data, nil
}

// ReadRange returns data[offset:offset+length] without reading the whole
// object.
func (s *Store) ReadRange(objectID uint64, offset, length int64) ([]byte, error) {
	f, err := s.open(objectID)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("objectstore: read range: %w", err)
	}
	return buf, nil
}

func (s *Store) open(objectID uint64) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.handles.Get(objectID); ok {
		return v.(*os.File), nil
	}
	f, err := os.Open(s.path(objectID))
	if err != nil {
		return nil, fmt.Errorf("objectstore: open object %d: %w", objectID, err)
	}
	s.handles.Add(objectID, f)
	return f, nil
}

// Delete removes the object and drops any cached handle for it.
func (s *Store) Delete(objectID uint64) error {
	s.mu.Lock()
	s.handles.Remove(objectID)
	s.mu.Unlock()

	if err := os.Remove(s.path(objectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: delete object %d: %w", objectID, err)
	}
	return nil
}

// Exists reports whether objectID has a file on disk.
func (s *Store) Exists(objectID uint64) bool {
	_, err := os.Stat(s.path(objectID))
	return err == nil
}
