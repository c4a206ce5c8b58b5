package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// Digest uniquely identifies a blob of bytes by its sha256 hash and size.
type Digest struct {
	Hash string
	Size int64
}

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.Size)
}

func digestBytes(b []byte) Digest {
	h := sha256.Sum256(b)

	return Digest{
		Hash: hex.EncodeToString(h[:]),
		Size: int64(len(b)),
	}
}

// Store is an in-memory content-addressed blob store.
// Blobs are immutable once added, making it safe to share digests by reference across concurrent readers.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	trees map[string]Snapshot
}

func NewStore() *Store {
	return &Store{
		blobs: make(map[string][]byte),
		trees: make(map[string]Snapshot),
	}
}

// Put adds a blob to the store, returning its digest.
// Adding the same bytes twice is a no-op.
func (s *Store) Put(b []byte) Digest {
	digest := digestBytes(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[digest.Hash]; !ok {
		// copy so callers can't mutate the stored blob through their slice
		blob := make([]byte, len(b))
		copy(blob, b)
		s.blobs[digest.Hash] = blob
	}

	return digest
}

// Bytes returns the blob for the given digest.
func (s *Store) Bytes(d Digest) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[d.Hash]

	return b, ok
}

// PutTree registers a snapshot under its tree digest, allowing it to be shared by reference
// (e.g. as an extra input to a tool invocation) and fetched back with Tree.
func (s *Store) PutTree(snapshot Snapshot) Digest {
	digest := snapshot.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trees[digest.Hash] = snapshot

	return digest
}

// Tree returns the snapshot previously registered under the given tree digest.
func (s *Store) Tree(d Digest) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.trees[d.Hash]

	return snapshot, ok
}

// Snapshot is an immutable mapping from relative file path to blob digest.
// Narrowing and merging operate on the mapping only, never on the underlying bytes.
type Snapshot struct {
	files map[string]Digest
}

// NewSnapshot constructs a snapshot from the given path to digest mapping.
// The mapping is copied, subsequent mutation of files has no effect on the snapshot.
func NewSnapshot(files map[string]Digest) Snapshot {
	copied := make(map[string]Digest, len(files))
	for path, digest := range files {
		copied[path] = digest
	}

	return Snapshot{files: copied}
}

// Files returns the snapshot's paths in lexicographic order.
func (s Snapshot) Files() []string {
	paths := make([]string, 0, len(s.files))
	for path := range s.files {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

// File returns the digest recorded for path.
func (s Snapshot) File(path string) (Digest, bool) {
	digest, ok := s.files[path]

	return digest, ok
}

func (s Snapshot) Len() int {
	return len(s.files)
}

// Digest returns a digest for the snapshot as a whole, derived from its sorted (path, digest) pairs.
func (s Snapshot) Digest() Digest {
	h := sha256.New()

	var size int64

	for _, path := range s.Files() {
		digest := s.files[path]
		fmt.Fprintf(h, "%s\x00%s\x00%d\n", path, digest.Hash, digest.Size)
		size += digest.Size
	}

	return Digest{
		Hash: hex.EncodeToString(h.Sum(nil)),
		Size: size,
	}
}
