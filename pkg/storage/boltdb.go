package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cascadedb/cascade/pkg/hummock/version"
	"github.com/cascadedb/cascade/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWorkers          = []byte("workers")
	bucketVersion          = []byte("hummock_version")
	bucketVersionDeltas    = []byte("hummock_version_deltas")
	bucketCompactionGroups = []byte("compaction_groups")
	bucketTables           = []byte("tables")
	bucketCA               = []byte("ca")
)

const versionKey = "current"

// BoltStore implements Store using bbolt, one bucket per entity kind.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt database Meta persists
// its replicated state into.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cascade-meta.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkers,
			bucketVersion,
			bucketVersionDeltas,
			bucketCompactionGroups,
			bucketTables,
			bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Worker operations
func (s *BoltStore) PutWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id))
	})
}

// HummockVersion operations. The current version lives under a fixed key;
// deltas are appended under their big-endian VersionID so a cursor scan
// since a given id returns them in application order.
func (s *BoltStore) SaveVersion(v *version.HummockVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersion)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(versionKey), data)
	})
}

func (s *BoltStore) LoadVersion() (*version.HummockVersion, error) {
	var v version.HummockVersion
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersion)
		data := b.Get([]byte(versionKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}

func versionDeltaKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (s *BoltStore) AppendVersionDelta(delta *version.VersionDelta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersionDeltas)
		data, err := json.Marshal(delta)
		if err != nil {
			return err
		}
		return b.Put(versionDeltaKey(delta.ID), data)
	})
}

func (s *BoltStore) ListVersionDeltas(sinceID uint64) ([]*version.VersionDelta, error) {
	var deltas []*version.VersionDelta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersionDeltas)
		c := b.Cursor()
		for k, v := c.Seek(versionDeltaKey(sinceID)); k != nil; k, v = c.Next() {
			var delta version.VersionDelta
			if err := json.Unmarshal(v, &delta); err != nil {
				return err
			}
			if delta.ID <= sinceID {
				continue
			}
			deltas = append(deltas, &delta)
		}
		return nil
	})
	return deltas, err
}

// Compaction group operations
func compactionGroupKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (s *BoltStore) PutCompactionGroup(group *types.CompactionGroupRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionGroups)
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return b.Put(compactionGroupKey(group.ID), data)
	})
}

func (s *BoltStore) GetCompactionGroup(id uint64) (*types.CompactionGroupRecord, error) {
	var group types.CompactionGroupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionGroups)
		data := b.Get(compactionGroupKey(id))
		if data == nil {
			return fmt.Errorf("compaction group not found: %d", id)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListCompactionGroups() ([]*types.CompactionGroupRecord, error) {
	var groups []*types.CompactionGroupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.CompactionGroupRecord
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

func (s *BoltStore) DeleteCompactionGroup(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCompactionGroups)
		return b.Delete(compactionGroupKey(id))
	})
}

// Catalog (table) operations
func tableKey(id uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, id)
	return key
}

func (s *BoltStore) PutTable(table *types.TableRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		data, err := json.Marshal(table)
		if err != nil {
			return err
		}
		return b.Put(tableKey(table.ID), data)
	})
}

func (s *BoltStore) GetTable(id uint32) (*types.TableRecord, error) {
	var table types.TableRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		data := b.Get(tableKey(id))
		if data == nil {
			return fmt.Errorf("table not found: %d", id)
		}
		return json.Unmarshal(data, &table)
	})
	if err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *BoltStore) GetTableByName(name string) (*types.TableRecord, error) {
	var found *types.TableRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.ForEach(func(k, v []byte) error {
			var table types.TableRecord
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			if table.Name == name {
				found = &table
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("table not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListTables() ([]*types.TableRecord, error) {
	var tables []*types.TableRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.ForEach(func(k, v []byte) error {
			var table types.TableRecord
			if err := json.Unmarshal(v, &table); err != nil {
				return err
			}
			tables = append(tables, &table)
			return nil
		})
	})
	return tables, err
}

func (s *BoltStore) DeleteTable(id uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTables)
		return b.Delete(tableKey(id))
	})
}

// Certificate Authority operations
func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		raw := b.Get([]byte("ca"))
		if raw == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	return data, err
}
