package walk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// gitWalker traverses the files tracked in a repository's index, skipping anything
// untracked (build output, caches and so on).
type gitWalker struct {
	root  string
	paths chan string
	repo  *git.Repository

	relPathOffset int
}

func (g gitWalker) Root() string {
	return g.root
}

func (g gitWalker) relPath(path string) (string, error) {
	// quick optimization for the majority of use cases
	if len(path) >= g.relPathOffset && path[:len(g.root)] == g.root {
		return path[g.relPathOffset:], nil
	}
	// fallback to proper relative path resolution
	return filepath.Rel(g.root, path)
}

func (g gitWalker) Walk(ctx context.Context, fn WalkFunc) error {
	idx, err := g.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to open git index: %w", err)
	}

	// lazily built lookup of index entries by path
	var cache map[string]*index.Entry

	for path := range g.paths {
		if path == g.root {
			// we can just iterate the index entries
			for _, entry := range idx.Entries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					// we only want regular files, not directories or symlinks
					if !entry.Mode.IsRegular() {
						continue
					}

					path := filepath.Join(g.root, entry.Name)

					info, err := os.Lstat(path)
					if os.IsNotExist(err) {
						// the file is in the index but has been removed without the change being staged yet
						log.Debugf("path %s is in the git index but missing from the filesystem, skipping", path)

						continue
					} else if err != nil {
						return fmt.Errorf("failed to stat %s: %w", path, err)
					}

					relPath, err := g.relPath(path)
					if err != nil {
						return fmt.Errorf("failed to determine a relative path for %s: %w", path, err)
					}

					file := File{
						Path:    path,
						RelPath: relPath,
						Info:    info,
					}

					if err = fn(&file, nil); err != nil {
						return err
					}
				}
			}

			continue
		}

		// otherwise cache the index entries by path and walk the sub tree, emitting
		// only the files present in the index
		if cache == nil {
			cache = make(map[string]*index.Entry, len(idx.Entries))
			for _, entry := range idx.Entries {
				cache[entry.Name] = entry
			}
		}

		err = filepath.Walk(path, func(path string, info fs.FileInfo, _ error) error {
			if info.IsDir() || info.Mode()&os.ModeSymlink == os.ModeSymlink {
				return nil
			}

			relPath, err := g.relPath(path)
			if err != nil {
				return fmt.Errorf("failed to determine a relative path for %s: %w", path, err)
			}

			if _, ok := cache[relPath]; !ok {
				log.Debugf("path %v not found in git index, skipping", path)

				return nil
			}

			file := File{
				Path:    path,
				RelPath: relPath,
				Info:    info,
			}

			return fn(&file, nil)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func NewGit(root string, paths chan string) (Walker, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}

	return &gitWalker{
		root:          root,
		paths:         paths,
		repo:          repo,
		relPathOffset: len(root) + 1,
	}, nil
}
