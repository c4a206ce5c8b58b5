// Package classpath materializes the toolchain artifacts (jars) needed to run a JVM
// formatting tool. The resulting Toolchain is immutable and shared read-only across
// all partitions of a run.
package classpath

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/partfmt/partfmt/content"
)

// Loader resolves the tool's classpath into a content snapshot.
type Loader interface {
	Load(ctx context.Context) (*Toolchain, error)
}

// Toolchain is the resolved, immutable set of artifacts required to run the tool.
type Toolchain struct {
	snapshot content.Snapshot
	digest   content.Digest
}

// Entries returns the classpath entries as they will appear once the toolchain is
// mounted under the virtual root relTo, preserving the configured order.
func (t *Toolchain) Entries(relTo string) []string {
	files := t.snapshot.Files()

	entries := make([]string, len(files))
	for i, file := range files {
		entries[i] = path.Join(relTo, file)
	}

	return entries
}

func (t *Toolchain) Snapshot() content.Snapshot {
	return t.snapshot
}

// Digest returns the tree digest under which the toolchain snapshot is registered in the store.
func (t *Toolchain) Digest() content.Digest {
	return t.digest
}

func (t *Toolchain) Len() int {
	return t.snapshot.Len()
}

type static struct {
	store *content.Store
	paths []string
	log   *log.Logger
}

// NewStatic returns a Loader which snapshots a fixed list of artifact paths,
// e.g. the jars of a lockfile materialized by an external resolver.
func NewStatic(store *content.Store, paths []string) Loader {
	return &static{
		store: store,
		paths: paths,
		log:   log.WithPrefix("classpath"),
	}
}

func (s *static) Load(_ context.Context) (*Toolchain, error) {
	files := make(map[string]content.Digest, len(s.paths))

	for idx, artifact := range s.paths {
		b, err := os.ReadFile(artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to read classpath entry %s: %w", artifact, err)
		}

		// prefix with a zero-padded index to keep entries unique and in configured order
		name := fmt.Sprintf("%04d_%s", idx, filepath.Base(artifact))
		files[name] = s.store.Put(b)
	}

	snapshot := content.NewSnapshot(files)
	digest := s.store.PutTree(snapshot)

	s.log.Debugf("materialized %d classpath entries", len(files))

	return &Toolchain{
		snapshot: snapshot,
		digest:   digest,
	}, nil
}
