package partition

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrMalformedPath indicates a source path which cannot be grouped by directory.
var ErrMalformedPath = errors.New("malformed source path")

// GroupByDir groups a sequence of root-relative file paths by their containing directory.
// The result maps directory path to the set of file basenames within it, with "."
// representing files at the tree root. Input paths may repeat; duplicates collapse
// into the set. Pure function, no I/O.
func GroupByDir(paths []string) (map[string]map[string]struct{}, error) {
	byDir := make(map[string]map[string]struct{})

	for _, path := range paths {
		if err := validatePath(path); err != nil {
			return nil, err
		}

		dir := filepath.Dir(path)

		names, ok := byDir[dir]
		if !ok {
			names = make(map[string]struct{})
			byDir[dir] = names
		}

		names[filepath.Base(path)] = struct{}{}
	}

	return byDir, nil
}

func validatePath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty path", ErrMalformedPath)
	case filepath.IsAbs(path):
		return fmt.Errorf("%w: %s is not relative to the tree root", ErrMalformedPath, path)
	case strings.HasSuffix(path, string(filepath.Separator)):
		return fmt.Errorf("%w: %s has no file name", ErrMalformedPath, path)
	case path == "." || strings.HasPrefix(path, ".."):
		return fmt.Errorf("%w: %s escapes the tree root", ErrMalformedPath, path)
	}

	return nil
}
