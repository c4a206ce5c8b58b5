package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/partfmt/partfmt/content"
)

// ErrNoConfigFile is returned under OrphanError when a directory has no config file in its ancestry.
var ErrNoConfigFile = errors.New("no config file found")

// OrphanBehavior controls what happens when a source directory has no discoverable
// config file anywhere between it and the tree root.
type OrphanBehavior int

const (
	// OrphanWarn excludes the directory's files from formatting and logs a warning.
	OrphanWarn OrphanBehavior = iota
	// OrphanIgnore excludes the directory's files from formatting silently.
	OrphanIgnore
	// OrphanError fails resolution outright, naming the offending directory.
	OrphanError
)

func (o OrphanBehavior) String() string {
	switch o {
	case OrphanWarn:
		return "warn"
	case OrphanIgnore:
		return "ignore"
	case OrphanError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

func OrphanBehaviorString(value string) (OrphanBehavior, error) {
	switch value {
	case "warn":
		return OrphanWarn, nil
	case "ignore":
		return OrphanIgnore, nil
	case "error":
		return OrphanError, nil
	default:
		return OrphanWarn, fmt.Errorf("unknown orphan behavior: %v", value)
	}
}

// Request describes a config file resolution for a set of source files.
type Request struct {
	ToolName       string
	ConfigFileName string
	Filepaths      []string
	OnOrphaned     OrphanBehavior
}

// Result carries the resolved config files.
// Every config file named in DirToConfig is guaranteed to be present in Snapshot.
type Result struct {
	Snapshot    content.Snapshot
	DirToConfig map[string]string
}

// Resolver locates the nearest enclosing config file for each source directory.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Result, error)
}

type fsResolver struct {
	root  string
	store *content.Store
	log   *log.Logger
}

// NewFS returns a Resolver which searches the filesystem upward from each source
// directory towards root, taking the nearest config file found.
func NewFS(root string, store *content.Store) Resolver {
	return &fsResolver{
		root:  root,
		store: store,
		log:   log.WithPrefix("resolve"),
	}
}

func (r *fsResolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	// the set of directories involved, deduplicated
	dirs := make(map[string]struct{})
	for _, path := range req.Filepaths {
		dirs[filepath.Dir(path)] = struct{}{}
	}

	dirToConfig := make(map[string]string, len(dirs))
	configFiles := make(map[string]struct{})

	// memoize search results per directory, many source dirs share ancestors
	found := make(map[string]string)

	var orphaned []string

	for dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		configFile, ok, err := r.findUp(dir, req.ConfigFileName, found)
		if err != nil {
			return nil, err
		}

		if !ok {
			orphaned = append(orphaned, dir)

			continue
		}

		dirToConfig[dir] = configFile
		configFiles[configFile] = struct{}{}
	}

	if len(orphaned) > 0 {
		sort.Strings(orphaned)

		switch req.OnOrphaned {
		case OrphanError:
			return nil, fmt.Errorf(
				"%w: unable to find a %s file for %s in %v or any of its parent directories",
				ErrNoConfigFile, req.ConfigFileName, req.ToolName, orphaned[0],
			)
		case OrphanWarn:
			for _, dir := range orphaned {
				r.log.Warnf("no %s file found for %s, files will not be formatted", req.ConfigFileName, dir)
			}
		case OrphanIgnore:
			r.log.Debugf("ignoring %d directories with no %s file", len(orphaned), req.ConfigFileName)
		}
	}

	paths := make([]string, 0, len(configFiles))
	for path := range configFiles {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	snapshot, err := r.store.Snapshot(r.root, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot config files: %w", err)
	}

	return &Result{
		Snapshot:    snapshot,
		DirToConfig: dirToConfig,
	}, nil
}

// findUp searches for name in dir and each of its parents up to (and including) the tree root.
// Directories are root-relative, with "." representing the root itself.
func (r *fsResolver) findUp(dir string, name string, found map[string]string) (string, bool, error) {
	var visited []string

	for current := dir; ; current = filepath.Dir(current) {
		if configFile, ok := found[current]; ok {
			// propagate the memoized result down to the directories we traversed
			for _, v := range visited {
				found[v] = configFile
			}

			return configFile, configFile != "", nil
		}

		visited = append(visited, current)

		candidate := filepath.Join(current, name)

		info, err := os.Stat(filepath.Join(r.root, candidate))

		switch {
		case err == nil && info.Mode().IsRegular():
			for _, v := range visited {
				found[v] = candidate
			}

			return candidate, true, nil
		case err != nil && !os.IsNotExist(err):
			return "", false, fmt.Errorf("failed to stat %s: %w", candidate, err)
		}

		if current == "." {
			break
		}
	}

	for _, v := range visited {
		found[v] = ""
	}

	return "", false, nil
}
