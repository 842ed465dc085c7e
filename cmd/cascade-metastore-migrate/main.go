// Command cascade-metastore-migrate is an offline maintenance tool for a
// meta node's persisted store: it squashes the Hummock version-delta log
// into the current version snapshot and truncates the log, shrinking the
// database and speeding up the next meta start (which otherwise replays
// every delta). Run it only while the meta node is stopped.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cascadedb/cascade/pkg/hummock/version"
)

var (
	dataDir    = flag.String("data-dir", "./data/meta", "Meta data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be squashed without making changes")
	backupPath = flag.String("backup", "", "Backup path for the database (default: <db>.backup)")
)

const (
	bucketVersion       = "hummock_version"
	bucketVersionDeltas = "hummock_version_deltas"
	versionKey          = "current"
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Cascade Metastore Migration Tool - version-delta squash")

	dbPath := filepath.Join(*dataDir, "cascade-meta.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}
	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Printf("✓ Backup created at %s", backupFile)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := squashDeltas(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("Dry run completed. No changes made.")
	} else {
		log.Println("✓ Migration completed successfully")
	}
}

func squashDeltas(db *bolt.DB, dryRun bool) error {
	var current version.HummockVersion
	var deltaCount int

	err := db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket([]byte(bucketVersion))
		if vb == nil {
			return fmt.Errorf("no %q bucket; is this a meta database?", bucketVersion)
		}
		raw := vb.Get([]byte(versionKey))
		if raw == nil {
			return fmt.Errorf("no current version recorded")
		}
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode current version: %w", err)
		}

		deltas := tx.Bucket([]byte(bucketVersionDeltas))
		if deltas == nil {
			return nil
		}
		return deltas.ForEach(func(k, v []byte) error {
			var delta version.VersionDelta
			if err := json.Unmarshal(v, &delta); err != nil {
				return fmt.Errorf("decode delta %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if delta.ID <= current.ID {
				// already folded into the snapshot
				deltaCount++
				return nil
			}
			next, err := current.Apply(delta)
			if err != nil {
				return fmt.Errorf("apply delta %d: %w", delta.ID, err)
			}
			current = next
			deltaCount++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("Current version id %d; %d deltas in the log", current.ID, deltaCount)
	if deltaCount == 0 {
		log.Println("✓ Delta log already empty, nothing to squash")
		return nil
	}
	if dryRun {
		log.Printf("[DRY RUN] Would write squashed version %d and truncate %d deltas", current.ID, deltaCount)
		return nil
	}

	return db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(&current)
		if err != nil {
			return fmt.Errorf("encode squashed version: %w", err)
		}
		if err := tx.Bucket([]byte(bucketVersion)).Put([]byte(versionKey), raw); err != nil {
			return err
		}
		if err := tx.DeleteBucket([]byte(bucketVersionDeltas)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(bucketVersionDeltas)); err != nil {
			return err
		}
		log.Printf("✓ Squashed %d deltas into version %d", deltaCount, current.ID)
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
