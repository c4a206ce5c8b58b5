package format

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gobwas/glob"
	"github.com/partfmt/partfmt/cache"
	"github.com/partfmt/partfmt/classpath"
	"github.com/partfmt/partfmt/config"
	"github.com/partfmt/partfmt/content"
	"github.com/partfmt/partfmt/dispatch"
	"github.com/partfmt/partfmt/partition"
	"github.com/partfmt/partfmt/resolve"
	"github.com/partfmt/partfmt/stats"
	"github.com/partfmt/partfmt/walk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	bolt "go.etcd.io/bbolt"
)

var ErrFailOnChange = errors.New("unexpected changes detected, --fail-on-change is enabled")

func Run(v *viper.Viper, statz *stats.Stats, cmd *cobra.Command, paths []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.CI {
		log.Info("ci mode enabled")

		startAfter := time.Now().
			// truncate to second precision
			Truncate(time.Second).
			// add one second
			Add(1 * time.Second).
			// a little extra to ensure we don't start until the next second
			Add(10 * time.Millisecond)

		log.Debugf("waiting until %v before continuing", startAfter)

		// Wait until we tick over into the next second before processing to ensure our EPOCH level modtime
		// comparisons for change detection are accurate.
		// This can fail in CI between checkout and running partfmt if everything happens too quickly.
		// For humans, the second level precision should not be a problem as they are unlikely to run partfmt
		// in sub-second succession.
		<-time.After(time.Until(startAfter))
	}

	// check all paths are contained within the tree root
	for idx, path := range paths {
		rootPath := filepath.Join(cfg.TreeRoot, path)
		if _, err = os.Stat(rootPath); err != nil {
			return fmt.Errorf("path %s not found within the tree root %s", path, cfg.TreeRoot)
		}
		// update the path entry with an absolute path
		paths[idx] = filepath.Clean(rootPath)
	}

	// create a prefixed logger
	log.SetPrefix("format")

	// compile the path matching globs
	globalExcludes, err := compileGlobs(cfg.Excludes)
	if err != nil {
		return fmt.Errorf("failed to compile global excludes: %w", err)
	}

	toolIncludes, err := compileGlobs(cfg.Tool.Includes)
	if err != nil {
		return fmt.Errorf("failed to compile tool includes: %w", err)
	}

	toolExcludes, err := compileGlobs(cfg.Tool.Excludes)
	if err != nil {
		return fmt.Errorf("failed to compile tool excludes: %w", err)
	}

	// create the content store shared by the partitioner and the dispatcher
	store := content.NewStore()

	dispatcher, err := dispatch.NewDispatcher(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialise the %s dispatcher: %w", cfg.Tool.Name, err)
	}

	partitioner, err := partition.New(
		cfg,
		resolve.NewFS(cfg.TreeRoot, store),
		classpath.NewStatic(store, classpathPaths(cfg)),
	)
	if err != nil {
		return fmt.Errorf("failed to initialise the partitioner: %w", err)
	}

	// open the cache if configured
	var db *bolt.DB

	if !cfg.NoCache {
		db, err = cache.Open(cfg.TreeRoot, cfg.ClearCache)
		if err != nil {
			// if we can't open the cache, we log a warning and fallback to no cache
			log.Warnf("failed to open cache: %v", err)

			cfg.NoCache = true
		} else {
			defer func() {
				if err := db.Close(); err != nil {
					log.Errorf("failed to close cache: %v", err)
				}
			}()

			if err = cache.EnsureTool(db, toolFingerprint(cfg)); err != nil {
				return fmt.Errorf("failed to check the tool fingerprint: %w", err)
			}
		}
	}

	// create an app context and listen for shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
		<-exit
		cancel()
	}()

	// gather the candidate files
	files, err := walkFiles(ctx, cfg, statz, paths, globalExcludes, toolIncludes, toolExcludes)
	if err != nil {
		return fmt.Errorf("failed to walk the tree: %w", err)
	}

	// drop files which haven't changed since the last run
	if !cfg.NoCache {
		files, err = cache.ChangeSet(db, files)
		if err != nil {
			return fmt.Errorf("failed to filter files against the cache: %w", err)
		}
	}

	filepaths := make([]string, len(files))
	byRelPath := make(map[string]*walk.File, len(files))

	for idx, file := range files {
		filepaths[idx] = file.RelPath
		byRelPath[file.RelPath] = file
	}

	// group the files into one partition per distinct config file
	partitions, err := partitioner.Partitions(ctx, filepaths)
	if err != nil {
		return fmt.Errorf("failed to partition files: %w", err)
	}

	// invoke the tool once per partition
	results, applyErr := dispatcher.ApplyAll(ctx, partitions)

	var processed []*walk.File

	for _, result := range results {
		if result == nil {
			// this partition failed, leave its files for the next run
			continue
		}

		if _, err := dispatcher.WriteBack(result); err != nil {
			return fmt.Errorf("failed to write formatted files for config %s: %w", result.Partition.Info.Description(), err)
		}

		statz.Add(stats.Formatted, int64(len(result.Files)))
		statz.Add(stats.Changed, int64(result.ChangedCount()))

		for _, fileResult := range result.Files {
			file := byRelPath[fileResult.Path]

			if fileResult.Changed {
				changed, newInfo, err := file.HasChanged()
				if err != nil {
					return err
				}

				if changed {
					log.Debug(
						"file has changed",
						"path", file.RelPath,
						"prev_size", file.Info.Size(),
						"current_size", newInfo.Size(),
					)

					// update the file info so the cache records the formatted state
					file.Info = newInfo
				}
			}

			processed = append(processed, file)
		}
	}

	// record the processed files, so they are skipped next run
	if !cfg.NoCache {
		if err := cache.Update(db, processed); err != nil {
			return fmt.Errorf("failed to update the cache: %w", err)
		}
	}

	// print stats to stdout
	statz.Print(os.Stdout)

	if applyErr != nil {
		return fmt.Errorf("formatting failure: %w", applyErr)
	}

	if cfg.FailOnChange && statz.Value(stats.Changed) != 0 {
		return ErrFailOnChange
	}

	return nil
}

// walkFiles traverses the tree (or just the given paths), returning the files the tool
// should format.
func walkFiles(
	ctx context.Context,
	cfg *config.Config,
	statz *stats.Stats,
	paths []string,
	globalExcludes, toolIncludes, toolExcludes []glob.Glob,
) ([]*walk.File, error) {
	walkerType, err := walk.TypeString(cfg.Walk)
	if err != nil {
		return nil, fmt.Errorf("invalid walk type: %w", err)
	}

	pathsCh := make(chan string, len(paths)+1)

	if len(paths) > 0 {
		for _, path := range paths {
			pathsCh <- path
		}
	} else {
		// no explicit paths to process, so we only need to process root
		pathsCh <- cfg.TreeRoot
	}

	close(pathsCh)

	walker, err := walk.New(walkerType, cfg.TreeRoot, pathsCh)
	if err != nil {
		return nil, fmt.Errorf("failed to create walker: %w", err)
	}

	var files []*walk.File

	err = walker.Walk(ctx, func(file *walk.File, err error) error {
		if err != nil {
			return err
		}

		if file.Info.IsDir() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		statz.Add(stats.Traversed, 1)

		// per-target opt-out and global excludes
		if pathMatches(file.RelPath, globalExcludes) || pathMatches(file.RelPath, toolExcludes) {
			log.Debugf("path matched excludes: %s", file.RelPath)

			return nil
		}

		if !pathMatches(file.RelPath, toolIncludes) {
			return nil
		}

		statz.Add(stats.Matched, 1)
		files = append(files, file)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// classpathPaths resolves the configured classpath entries relative to the tree root.
func classpathPaths(cfg *config.Config) []string {
	paths := make([]string, len(cfg.Tool.Classpath))

	for idx, entry := range cfg.Tool.Classpath {
		if filepath.IsAbs(entry) {
			paths[idx] = entry
		} else {
			paths[idx] = filepath.Join(cfg.TreeRoot, entry)
		}
	}

	return paths
}

// toolFingerprint derives a stable identifier for the current tool configuration,
// incorporating the executable's state so upgrading the tool busts the cache.
func toolFingerprint(cfg *config.Config) string {
	h := sha256.New()

	writeField := func(values ...string) {
		for _, value := range values {
			_, _ = io.WriteString(h, value)
			_, _ = h.Write([]byte{0})
		}
	}

	writeField(cfg.Tool.Name, cfg.Tool.Command, cfg.Tool.MainClass, cfg.Tool.ConfigFile)
	writeField(cfg.Tool.Options...)
	writeField(cfg.Tool.JvmOptions...)

	for _, entry := range classpathPaths(cfg) {
		writeField(entry)

		if info, err := os.Stat(entry); err == nil {
			writeField(fmt.Sprintf("%d/%d", info.Size(), info.ModTime().UnixNano()))
		}
	}

	if cfg.Tool.Command != "" {
		if path, err := exec.LookPath(cfg.Tool.Command); err == nil {
			if info, err := os.Stat(path); err == nil {
				writeField(path, fmt.Sprintf("%d/%d", info.Size(), info.ModTime().UnixNano()))
			}
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
