package hummock

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/hummock/version"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[uint64][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[uint64][]byte)}
}

func (f *fakeObjectStore) Upload(objectID uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjectStore) Read(objectID uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("object %d not found", objectID)
	}
	return data, nil
}

type fakeVersionSource struct {
	mu sync.Mutex
	v  version.HummockVersion
}

func newFakeVersionSource() *fakeVersionSource {
	return &fakeVersionSource{v: version.NewEmpty(3)}
}

func (f *fakeVersionSource) CurrentVersion() version.HummockVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

func (f *fakeVersionSource) CommitSync(maxSyncedEpoch uint64, newTable version.SSTableInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delta := version.VersionDelta{
		ID:             f.v.ID + 1,
		PrevID:         f.v.ID,
		MaxSyncedEpoch: maxSyncedEpoch,
		LevelDeltas: []version.LevelDelta{
			{LevelIdx: 0, InsertTables: []version.SSTableInfo{newTable}},
		},
	}
	next, err := f.v.Apply(delta)
	if err != nil {
		return err
	}
	f.v = next
	return nil
}

func TestStorageReadsOwnWritesBeforeSync(t *testing.T) {
	s := NewStorage(newFakeObjectStore(), newFakeVersionSource())
	require.NoError(t, s.Write(1, []byte("k1"), []byte("v1")))

	v, found, err := s.Get([]byte("k1"), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestStorageReadsAfterSync(t *testing.T) {
	s := NewStorage(newFakeObjectStore(), newFakeVersionSource())
	require.NoError(t, s.Write(1, []byte("k1"), []byte("v1")))
	require.NoError(t, s.SealEpoch(1))

	ok, err := s.Sync(1)
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := s.Get([]byte("k1"), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestStorageDeleteTombstoneHidesValue(t *testing.T) {
	s := NewStorage(newFakeObjectStore(), newFakeVersionSource())
	require.NoError(t, s.Write(1, []byte("k1"), []byte("v1")))
	require.NoError(t, s.SealEpoch(1))
	ok, err := s.Sync(1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Write(2, []byte("k1"), nil))
	require.NoError(t, s.SealEpoch(2))
	ok, err = s.Sync(2)
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err := s.Get([]byte("k1"), 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorageEpochVisibilityAcrossSyncedTables(t *testing.T) {
	s := NewStorage(newFakeObjectStore(), newFakeVersionSource())
	require.NoError(t, s.Write(1, []byte("k1"), []byte("v1")))
	require.NoError(t, s.SealEpoch(1))
	_, err := s.Sync(1)
	require.NoError(t, err)

	require.NoError(t, s.Write(2, []byte("k1"), []byte("v2")))
	require.NoError(t, s.SealEpoch(2))
	_, err = s.Sync(2)
	require.NoError(t, err)

	v, found, err := s.Get([]byte("k1"), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", string(v))

	v, found, err = s.Get([]byte("k1"), 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", string(v))
}

func TestSealEpochWithoutWritesErrors(t *testing.T) {
	s := NewStorage(newFakeObjectStore(), newFakeVersionSource())
	assert.Error(t, s.SealEpoch(99))
}
