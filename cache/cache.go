// Package cache tracks the last seen state of source files so unchanged files can be
// skipped on subsequent runs. The database lives under the user's XDG cache directory,
// keyed by a hash of the tree root, and is busted whenever the tool fingerprint
// (command, classpath, options, config filename) changes.
package cache

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/partfmt/partfmt/walk"
	bolt "go.etcd.io/bbolt"
)

const fingerprintKey = "fingerprint"

// Entry represents a cache entry, indicating the last size and modified time for a file path.
type Entry struct {
	Size     int64
	Modified time.Time
}

func (e *Entry) HasChanged(info fs.FileInfo) bool {
	if e.Size != info.Size() {
		return true
	}

	// truncated to second precision, matching walk.File.HasChanged
	return !e.Modified.Truncate(time.Second).Equal(info.ModTime().Truncate(time.Second))
}

// Open creates an instance of bolt.DB for a given treeRoot path.
// If clear is true, any existing path entries are removed.
//
// The database will be located in `XDG_CACHE_DIR/partfmt/eval-cache/<id>.db`, where <id> is
// determined by hashing the treeRoot path. This associates a given treeRoot with a given
// instance of the cache.
func Open(treeRoot string, clear bool) (*bolt.DB, error) {
	// determine a unique and consistent db name for the tree root
	h := sha1.New() //nolint:gosec
	h.Write([]byte(treeRoot))
	name := hex.EncodeToString(h.Sum(nil))

	path, err := xdg.CacheFile(fmt.Sprintf("partfmt/eval-cache/%v.db", name))
	if err != nil {
		return nil, fmt.Errorf("could not resolve local path for the cache: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		// create buckets if they don't already exist
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketPaths)); err != nil {
			return fmt.Errorf("failed to create paths bucket: %w", err)
		}

		if _, err := tx.CreateBucketIfNotExists([]byte(bucketTool)); err != nil {
			return fmt.Errorf("failed to create tool bucket: %w", err)
		}

		if clear {
			paths, err := BucketPaths(tx)
			if err != nil {
				return err
			}

			if err := paths.DeleteAll(); err != nil {
				return fmt.Errorf("failed to clear path entries: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}

// EnsureTool compares fingerprint with the one recorded in the db.
// On a mismatch all path entries are removed, ensuring every file is re-formatted
// with the current tool configuration.
func EnsureTool(db *bolt.DB, fingerprint string) error {
	return db.Update(func(tx *bolt.Tx) error {
		toolBucket, err := BucketTool(tx)
		if err != nil {
			return err
		}

		previous, err := toolBucket.Get(fingerprintKey)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return err
		}

		if previous != nil && *previous == fingerprint {
			return nil
		}

		if previous != nil {
			log.WithPrefix("cache").Debugf("tool fingerprint changed, clearing path entries")

			paths, err := BucketPaths(tx)
			if err != nil {
				return err
			}

			if err := paths.DeleteAll(); err != nil {
				return fmt.Errorf("failed to clear path entries: %w", err)
			}
		}

		return toolBucket.Put(fingerprintKey, &fingerprint)
	})
}

// ChangeSet filters files down to those which are new or have changed since the last run.
func ChangeSet(db *bolt.DB, files []*walk.File) ([]*walk.File, error) {
	var changed []*walk.File

	err := db.View(func(tx *bolt.Tx) error {
		paths, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		for _, file := range files {
			entry, err := paths.Get(file.RelPath)
			if errors.Is(err, ErrKeyNotFound) {
				changed = append(changed, file)

				continue
			} else if err != nil {
				return err
			}

			if entry.HasChanged(file.Info) {
				changed = append(changed, file)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read change set from cache: %w", err)
	}

	return changed, nil
}

// Update records the current state of the given files.
func Update(db *bolt.DB, files []*walk.File) error {
	if len(files) == 0 {
		return nil
	}

	err := db.Update(func(tx *bolt.Tx) error {
		paths, err := BucketPaths(tx)
		if err != nil {
			return err
		}

		for _, file := range files {
			entry := Entry{
				Size:     file.Info.Size(),
				Modified: file.Info.ModTime(),
			}

			if err := paths.Put(file.RelPath, &entry); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update cache: %w", err)
	}

	return nil
}
