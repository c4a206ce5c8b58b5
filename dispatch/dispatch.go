// Package dispatch runs the formatting tool once per partition. Each invocation gets
// a private sandbox holding the merged config and source content plus the toolchain
// mounted under its virtual root, and declares its input files as outputs so rewrites
// happen in place within the sandbox.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/partfmt/partfmt/config"
	"github.com/partfmt/partfmt/content"
	logw "github.com/partfmt/partfmt/internal/log"
	"github.com/partfmt/partfmt/partition"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
)

// ErrCommandNotFound is returned when the tool's executable is not available.
var ErrCommandNotFound = errors.New("tool command not found in PATH")

// ToolError indicates the tool exited abnormally for one partition.
// Output carries the tool's combined stdout/stderr verbatim.
type ToolError struct {
	ConfigFile string
	Files      partition.FileSet
	Output     []byte
	Err        error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("tool failed for config %s (%d files): %v", e.ConfigFile, len(e.Files), e.Err)
	if len(e.Output) > 0 {
		msg += "\n" + string(e.Output)
	}

	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// FileResult records the outcome for a single file of a partition.
type FileResult struct {
	Path    string
	Digest  content.Digest
	Changed bool
}

// Result is the outcome of one partition's tool invocation.
type Result struct {
	Partition partition.Partition
	Files     []FileResult
}

// ChangedCount returns the number of files the tool rewrote.
func (r *Result) ChangedCount() int {
	var count int

	for _, file := range r.Files {
		if file.Changed {
			count++
		}
	}

	return count
}

// Dispatcher invokes the formatting tool for partitions.
type Dispatcher struct {
	tool       config.Tool
	treeRoot   string
	store      *content.Store
	executable string
	log        *log.Logger
}

func NewDispatcher(cfg *config.Config, store *content.Store) (*Dispatcher, error) {
	env := expand.ListEnviron(os.Environ()...)

	// when no explicit command is configured, we run the tool as a JVM process from
	// the materialized classpath
	command := cfg.Tool.Command
	if command == "" {
		command = "java"
	}

	executable, err := interp.LookPathDir(cfg.TreeRoot, env, command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, command)
	}

	return &Dispatcher{
		tool:       cfg.Tool,
		treeRoot:   cfg.TreeRoot,
		store:      store,
		executable: executable,
		log:        log.WithPrefix("dispatch"),
	}, nil
}

// Apply formats one partition. The partition's config snapshot and current source
// content are merged into a sandbox, the tool is invoked with the config file and the
// partition's files as arguments, and the (possibly rewritten) outputs are read back
// into the content store.
func (d *Dispatcher) Apply(ctx context.Context, p partition.Partition) (*Result, error) {
	start := time.Now()
	configFile := p.Info.Description()

	sources, err := d.store.Snapshot(d.treeRoot, p.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot sources for config %s: %w", configFile, err)
	}

	// an overlap between the config snapshot and the sources indicates broken config
	// slicing upstream, surface it as an internal consistency error
	merged, err := content.Merge(p.Info.ConfigSnapshot, sources)
	if err != nil {
		return nil, fmt.Errorf("inconsistent partition for config %s: %w", configFile, err)
	}

	sandbox, err := os.MkdirTemp("", "partfmt-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create a sandbox directory: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(sandbox); err != nil {
			d.log.Errorf("failed to remove sandbox %s: %v", sandbox, err)
		}
	}()

	if err := d.store.Materialize(merged, sandbox); err != nil {
		return nil, fmt.Errorf("failed to materialize inputs for config %s: %w", configFile, err)
	}

	// mount the extra immutable inputs (toolchain content) under their virtual roots
	for name, digest := range p.Info.ExtraInputs {
		tree, ok := d.store.Tree(digest)
		if !ok {
			return nil, fmt.Errorf("store has no tree for extra input %s (%s)", name, digest)
		}

		if err := d.store.Materialize(tree, filepath.Join(sandbox, name)); err != nil {
			return nil, fmt.Errorf("failed to materialize extra input %s: %w", name, err)
		}
	}

	args := d.argv(p, configFile)

	cmd := exec.CommandContext(ctx, d.executable, args...) //nolint:gosec
	// replace the default Cancel handler installed by CommandContext because it sends SIGKILL (-9).
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.Dir = sandbox

	d.log.Debugf("executing: %s", cmd.String())

	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &ToolError{
			ConfigFile: configFile,
			Files:      p.Files,
			Output:     out,
			Err:        err,
		}
	}

	if len(out) > 0 {
		_, _ = (&logw.Writer{Log: d.log}).Write(out)
	}

	// the declared outputs are the input files, read them back and compare
	results := make([]FileResult, len(p.Files))

	for idx, file := range p.Files {
		b, err := os.ReadFile(filepath.Join(sandbox, file))
		if err != nil {
			return nil, fmt.Errorf("failed to read output %s: %w", file, err)
		}

		digest := d.store.Put(b)
		before, _ := sources.File(file)

		results[idx] = FileResult{
			Path:    file,
			Digest:  digest,
			Changed: digest != before,
		}
	}

	d.log.Infof("%v file(s) processed in %v", len(p.Files), time.Since(start))

	return &Result{
		Partition: p,
		Files:     results,
	}, nil
}

// argv constructs the tool's arguments: pass-through options first, then the config
// file, then the partition's files as positional arguments.
func (d *Dispatcher) argv(p partition.Partition, configFile string) []string {
	var args []string

	if d.tool.Command == "" {
		// jvm form: java [jvm options] -cp <classpath> <main class> ...
		args = append(args, d.tool.JvmOptions...)
		args = append(args, "-cp", strings.Join(p.Info.ClasspathEntries, string(os.PathListSeparator)))
		args = append(args, d.tool.MainClass)
	}

	args = append(args, d.tool.Options...)
	args = append(args, fmt.Sprintf("--config=%s", configFile), "--non-interactive")
	args = append(args, p.Files...)

	return args
}

// ApplyAll fans the partitions out across an errgroup and joins the results.
// Partitions are independent: one partition's tool failure does not cancel its
// siblings, all failures are collected into the returned error. results[i]
// corresponds to partitions[i] and is nil if that partition failed.
func (d *Dispatcher) ApplyAll(ctx context.Context, partitions []partition.Partition) ([]*Result, error) {
	results := make([]*Result, len(partitions))
	errs := make([]error, len(partitions))

	// we don't want a cancel clause, in order to let sibling invocations run to the end
	eg := errgroup.Group{}
	// simple heuristic to avoid too much contention
	eg.SetLimit(runtime.NumCPU())

	for idx, p := range partitions {
		idx, p := idx, p
		eg.Go(func() error {
			result, err := d.Apply(ctx, p)
			if err != nil {
				errs[idx] = err

				return nil
			}

			results[idx] = result

			return nil
		})
	}

	// Go's errgroup only returns the first error, collect them all instead
	_ = eg.Wait()

	return results, errors.Join(errs...)
}

// WriteBack copies a result's rewritten file contents over the originals beneath the
// tree root, returning the number of files written.
func (d *Dispatcher) WriteBack(result *Result) (int, error) {
	var written int

	for _, file := range result.Files {
		if !file.Changed {
			continue
		}

		b, ok := d.store.Bytes(file.Digest)
		if !ok {
			return written, fmt.Errorf("store has no blob for %s (%s)", file.Path, file.Digest)
		}

		target := filepath.Join(d.treeRoot, file.Path)

		info, err := os.Stat(target)
		if err != nil {
			return written, fmt.Errorf("failed to stat %s: %w", file.Path, err)
		}

		if err := os.WriteFile(target, b, info.Mode()); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}

		written++
	}

	return written, nil
}
