package content_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/partfmt/partfmt/content"
	"github.com/stretchr/testify/require"
)

func TestStorePutAndBytes(t *testing.T) {
	as := require.New(t)

	store := content.NewStore()

	digest := store.Put([]byte("object A\n"))
	as.Equal(int64(9), digest.Size)

	// identical bytes produce the identical digest
	as.Equal(digest, store.Put([]byte("object A\n")))

	b, ok := store.Bytes(digest)
	as.True(ok)
	as.Equal("object A\n", string(b))

	_, ok = store.Bytes(content.Digest{Hash: "missing"})
	as.False(ok)
}

func TestSnapshotFromDisk(t *testing.T) {
	as := require.New(t)

	root := t.TempDir()
	as.NoError(os.MkdirAll(filepath.Join(root, "src"), 0o755))
	as.NoError(os.WriteFile(filepath.Join(root, "src", "A.scala"), []byte("object A\n"), 0o644))
	as.NoError(os.WriteFile(filepath.Join(root, ".scalafmt.conf"), []byte("maxColumn = 100\n"), 0o644))

	store := content.NewStore()

	snapshot, err := store.Snapshot(root, []string{"src/A.scala", ".scalafmt.conf"})
	as.NoError(err)
	as.Equal([]string{".scalafmt.conf", "src/A.scala"}, snapshot.Files())

	_, err = store.Snapshot(root, []string{"missing.scala"})
	as.Error(err)
}

func TestSubsetIsANarrowingProjection(t *testing.T) {
	as := require.New(t)

	store := content.NewStore()

	snapshot := content.NewSnapshot(map[string]content.Digest{
		".scalafmt.conf":       store.Put([]byte("root")),
		"src/c/.scalafmt.conf": store.Put([]byte("nested")),
		"src/c/D.scala":        store.Put([]byte("object D")),
	})

	narrowed, err := content.Subset(snapshot, "src/c/.scalafmt.conf")
	as.NoError(err)
	as.Equal([]string{"src/c/.scalafmt.conf"}, narrowed.Files())

	// the projection shares digests with the original
	want, _ := snapshot.File("src/c/.scalafmt.conf")
	got, ok := narrowed.File("src/c/.scalafmt.conf")
	as.True(ok)
	as.Equal(want, got)

	// the original is untouched
	as.Equal(3, snapshot.Len())

	// globs select multiple files
	confs, err := content.Subset(snapshot, "**.scalafmt.conf", ".scalafmt.conf")
	as.NoError(err)
	as.Equal(2, confs.Len())
}

func TestMergeDetectsConflicts(t *testing.T) {
	as := require.New(t)

	store := content.NewStore()

	configSnapshot := content.NewSnapshot(map[string]content.Digest{
		".scalafmt.conf": store.Put([]byte("maxColumn = 100")),
	})
	sources := content.NewSnapshot(map[string]content.Digest{
		"src/A.scala": store.Put([]byte("object A")),
	})

	merged, err := content.Merge(configSnapshot, sources)
	as.NoError(err)
	as.Equal([]string{".scalafmt.conf", "src/A.scala"}, merged.Files())

	// merging the same path with the same digest is fine
	_, err = content.Merge(merged, configSnapshot)
	as.NoError(err)

	// but differing contents for the same path is a conflict
	conflicting := content.NewSnapshot(map[string]content.Digest{
		".scalafmt.conf": store.Put([]byte("maxColumn = 80")),
	})

	_, err = content.Merge(merged, conflicting)
	as.ErrorIs(err, content.ErrPathConflict)
}

func TestMaterialize(t *testing.T) {
	as := require.New(t)

	store := content.NewStore()

	snapshot := content.NewSnapshot(map[string]content.Digest{
		"src/main/A.scala": store.Put([]byte("object A\n")),
		".scalafmt.conf":   store.Put([]byte("maxColumn = 100\n")),
	})

	dir := t.TempDir()
	as.NoError(store.Materialize(snapshot, dir))

	b, err := os.ReadFile(filepath.Join(dir, "src/main/A.scala"))
	as.NoError(err)
	as.Equal("object A\n", string(b))

	b, err = os.ReadFile(filepath.Join(dir, ".scalafmt.conf"))
	as.NoError(err)
	as.Equal("maxColumn = 100\n", string(b))
}

func TestTreeDigest(t *testing.T) {
	as := require.New(t)

	store := content.NewStore()

	snapshot := content.NewSnapshot(map[string]content.Digest{
		"a.jar": store.Put([]byte("one")),
		"b.jar": store.Put([]byte("two")),
	})

	digest := store.PutTree(snapshot)

	fetched, ok := store.Tree(digest)
	as.True(ok)
	as.Equal(snapshot.Files(), fetched.Files())

	// the tree digest is stable for equal contents
	as.Equal(digest, snapshot.Digest())
}
