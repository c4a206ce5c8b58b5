package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// ErrPathConflict indicates two snapshots being merged disagree on the contents of a path.
var ErrPathConflict = errors.New("snapshots have conflicting contents for path")

// Snapshot reads the given root-relative paths from disk into the store and returns a snapshot of them.
func (s *Store) Snapshot(root string, paths []string) (Snapshot, error) {
	files := make(map[string]Digest, len(paths))

	for _, path := range paths {
		b, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
		}

		files[path] = s.Put(b)
	}

	return NewSnapshot(files), nil
}

// Subset narrows a snapshot down to the paths matching the given glob patterns.
// This is a projection of the path mapping, the underlying blobs are not copied.
func Subset(snapshot Snapshot, patterns ...string) (Snapshot, error) {
	globs := make([]glob.Glob, len(patterns))

	for i, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to compile subset pattern '%v': %w", pattern, err)
		}

		globs[i] = g
	}

	files := make(map[string]Digest)

	for _, path := range snapshot.Files() {
		for _, g := range globs {
			if g.Match(path) {
				files[path], _ = snapshot.File(path)

				break
			}
		}
	}

	return Snapshot{files: files}, nil
}

// Merge unions the given snapshots into one.
// A path may appear in more than one snapshot only if every occurrence carries the same digest,
// otherwise ErrPathConflict is returned.
func Merge(snapshots ...Snapshot) (Snapshot, error) {
	files := make(map[string]Digest)

	for _, snapshot := range snapshots {
		for path, digest := range snapshot.files {
			if existing, ok := files[path]; ok && existing != digest {
				return Snapshot{}, fmt.Errorf("%w: %s", ErrPathConflict, path)
			}

			files[path] = digest
		}
	}

	return Snapshot{files: files}, nil
}

// Materialize writes the snapshot's files out beneath dir, creating parent directories as needed.
func (s *Store) Materialize(snapshot Snapshot, dir string) error {
	for _, path := range snapshot.Files() {
		digest, _ := snapshot.File(path)

		b, ok := s.Bytes(digest)
		if !ok {
			return fmt.Errorf("store has no blob for %s (%s)", path, digest)
		}

		target := filepath.Join(dir, path)

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}

		if err := os.WriteFile(target, b, 0o644); err != nil {
			return fmt.Errorf("failed to materialize %s: %w", path, err)
		}
	}

	return nil
}
