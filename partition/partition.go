// Package partition groups source files by the tool config file governing them.
// Each partition carries everything needed for one tool invocation: the files, the
// classpath entries, and a content snapshot narrowed down to the single relevant
// config file. Directories sharing a config file are batched into one partition
// regardless of where they sit in the tree.
package partition

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/partfmt/partfmt/classpath"
	"github.com/partfmt/partfmt/config"
	"github.com/partfmt/partfmt/content"
	"github.com/partfmt/partfmt/resolve"
	"golang.org/x/sync/errgroup"
)

// ToolcpDir is the virtual root under which the toolchain classpath is mounted
// inside each tool invocation's sandbox.
const ToolcpDir = "__toolcp"

// FileSet is an ordered set of root-relative file paths forming one formatting unit.
// Within a run, no path appears in more than one FileSet.
type FileSet []string

// Info carries the invocation inputs shared by all files of a partition.
type Info struct {
	// ClasspathEntries are the toolchain entries as mounted under ToolcpDir, in order.
	ClasspathEntries []string
	// ConfigSnapshot holds exactly one file: the config file governing this partition.
	ConfigSnapshot content.Snapshot
	// ExtraInputs maps virtual input root names to tree digests which must be
	// materialized alongside the sources at invocation time.
	ExtraInputs map[string]content.Digest
}

// Description returns the partition's config file path.
func (i Info) Description() string {
	return i.ConfigSnapshot.Files()[0]
}

// Partition is a FileSet together with the inputs needed to format it.
type Partition struct {
	Files FileSet
	Info  Info
}

// Partitioner produces partitions from a set of source files.
type Partitioner struct {
	tool       config.Tool
	skip       bool
	onOrphaned resolve.OrphanBehavior
	resolver   resolve.Resolver
	loader     classpath.Loader
	log        *log.Logger
}

func New(
	cfg *config.Config,
	resolver resolve.Resolver,
	loader classpath.Loader,
) (*Partitioner, error) {
	onOrphaned, err := resolve.OrphanBehaviorString(cfg.OnOrphaned)
	if err != nil {
		return nil, fmt.Errorf("invalid on-orphaned value: %w", err)
	}

	return &Partitioner{
		tool:       cfg.Tool,
		skip:       cfg.Skip,
		onOrphaned: onOrphaned,
		resolver:   resolver,
		loader:     loader,
		log:        log.WithPrefix("partition"),
	}, nil
}

// Partitions groups filepaths by their governing config file, returning one partition
// per distinct config file in use. Files in directories with no resolvable config file
// are excluded according to the configured orphan behavior. A set skip flag or an
// empty input yields zero partitions.
func (p *Partitioner) Partitions(ctx context.Context, filepaths []string) ([]Partition, error) {
	if p.skip {
		p.log.Debugf("%s is skipped, nothing to partition", p.tool.Name)

		return nil, nil
	}

	if len(filepaths) == 0 {
		return nil, nil
	}

	byDir, err := GroupByDir(filepaths)
	if err != nil {
		return nil, err
	}

	// the toolchain classpath and the config assignment are independent, fetch them concurrently
	var (
		toolchain *classpath.Toolchain
		resolved  *resolve.Result
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error

		toolchain, err = p.loader.Load(egCtx)
		if err != nil {
			return fmt.Errorf("failed to materialize the %s classpath: %w", p.tool.Name, err)
		}

		return nil
	})

	eg.Go(func() error {
		var err error

		resolved, err = p.resolver.Resolve(egCtx, resolve.Request{
			ToolName:       p.tool.Name,
			ConfigFileName: p.tool.ConfigFile,
			Filepaths:      filepaths,
			OnOrphaned:     p.onOrphaned,
		})
		if err != nil {
			return fmt.Errorf("failed to resolve %s config files: %w", p.tool.ConfigFile, err)
		}

		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// bucket the source files by their assigned config file, regardless of directory
	buckets := make(map[string][]string)

	for dir, names := range byDir {
		configFile, ok := resolved.DirToConfig[dir]
		if !ok {
			// orphaned directory, already handled by the resolver per the configured behavior
			continue
		}

		for name := range names {
			buckets[configFile] = append(buckets[configFile], filepath.Join(dir, name))
		}
	}

	configFiles := make([]string, 0, len(buckets))
	for configFile := range buckets {
		configFiles = append(configFiles, configFile)
	}

	sort.Strings(configFiles)

	extraInputs := map[string]content.Digest{}
	if toolchain.Len() > 0 {
		extraInputs[ToolcpDir] = toolchain.Digest()
	}

	// narrow the config snapshot down to one file per bucket; buckets are independent,
	// so the projections can run concurrently
	partitions := make([]Partition, len(configFiles))

	eg, _ = errgroup.WithContext(ctx)

	for idx, configFile := range configFiles {
		idx, configFile := idx, configFile
		eg.Go(func() error {
			snapshot, err := content.Subset(resolved.Snapshot, configFile)
			if err != nil {
				return fmt.Errorf("failed to narrow config snapshot to %s: %w", configFile, err)
			}

			if snapshot.Len() != 1 {
				return fmt.Errorf(
					"expected exactly one file in the config snapshot for %s, got %d",
					configFile, snapshot.Len(),
				)
			}

			files := buckets[configFile]
			sort.Strings(files)

			partitions[idx] = Partition{
				Files: files,
				Info: Info{
					ClasspathEntries: toolchain.Entries(ToolcpDir),
					ConfigSnapshot:   snapshot,
					ExtraInputs:      extraInputs,
				},
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	p.log.Debugf("partitioned %d files into %d partitions", len(filepaths), len(partitions))

	return partitions, nil
}
