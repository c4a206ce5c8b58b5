package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/partfmt/partfmt/classpath"
	"github.com/partfmt/partfmt/config"
	"github.com/partfmt/partfmt/content"
	"github.com/partfmt/partfmt/dispatch"
	"github.com/partfmt/partfmt/partition"
	"github.com/partfmt/partfmt/resolve"
	"github.com/stretchr/testify/require"
)

// fakeFmt appends a marker comment to each file passed to it, unless the marker is
// already present, making it idempotent like a real formatter. It fails if the config
// file it was given does not exist in its working directory.
const fakeFmt = `#!/bin/sh
config=""
for arg in "$@"; do
  case "$arg" in
    --config=*) config="${arg#--config=}" ;;
    --*) ;;
    *)
      grep -q "// formatted" "$arg" || printf '// formatted\n' >> "$arg"
      ;;
  esac
done
[ -n "$config" ] && [ -f "$config" ] || exit 1
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	as := require.New(t)
	root := t.TempDir()

	for path, contents := range files {
		target := filepath.Join(root, path)
		as.NoError(os.MkdirAll(filepath.Dir(target), 0o755))
		as.NoError(os.WriteFile(target, []byte(contents), 0o644))
	}

	return root
}

// installTool writes an executable script into a temp dir and prepends it to PATH.
func installTool(t *testing.T, name string, script string) {
	t.Helper()

	as := require.New(t)

	binPath := filepath.Join(t.TempDir(), "bin")
	as.NoError(os.Mkdir(binPath, 0o755))
	as.NoError(os.WriteFile(filepath.Join(binPath, name), []byte(script), 0o755))

	t.Setenv("PATH", binPath+":"+os.Getenv("PATH"))
}

func setup(t *testing.T, root string, toolCommand string) (*dispatch.Dispatcher, *partition.Partitioner, *content.Store) {
	t.Helper()

	as := require.New(t)

	cfg := &config.Config{
		TreeRoot:   root,
		OnOrphaned: "warn",
		Tool: config.Tool{
			Name:       "scalafmt",
			Command:    toolCommand,
			ConfigFile: ".scalafmt.conf",
		},
	}

	store := content.NewStore()

	dispatcher, err := dispatch.NewDispatcher(cfg, store)
	as.NoError(err)

	partitioner, err := partition.New(cfg, resolve.NewFS(root, store), classpath.NewStatic(store, nil))
	as.NoError(err)

	return dispatcher, partitioner, store
}

func TestApplyRewritesFiles(t *testing.T) {
	as := require.New(t)

	installTool(t, "fake-fmt", fakeFmt)

	root := writeTree(t, map[string]string{
		".scalafmt.conf": "maxColumn = 100\n",
		"src/A.scala":    "object A\n",
		"src/B.scala":    "object B\n",
	})

	dispatcher, partitioner, store := setup(t, root, "fake-fmt")

	partitions, err := partitioner.Partitions(context.Background(), []string{"src/A.scala", "src/B.scala"})
	as.NoError(err)
	as.Len(partitions, 1)

	result, err := dispatcher.Apply(context.Background(), partitions[0])
	as.NoError(err)
	as.Len(result.Files, 2)
	as.Equal(2, result.ChangedCount())

	// the rewritten content is available from the store
	b, ok := store.Bytes(result.Files[0].Digest)
	as.True(ok)
	as.Equal("object A\n// formatted\n", string(b))

	// the original tree is untouched until WriteBack
	b, err = os.ReadFile(filepath.Join(root, "src/A.scala"))
	as.NoError(err)
	as.Equal("object A\n", string(b))

	written, err := dispatcher.WriteBack(result)
	as.NoError(err)
	as.Equal(2, written)

	b, err = os.ReadFile(filepath.Join(root, "src/A.scala"))
	as.NoError(err)
	as.Equal("object A\n// formatted\n", string(b))
}

func TestApplyIsIdempotent(t *testing.T) {
	as := require.New(t)

	installTool(t, "fake-fmt", fakeFmt)

	root := writeTree(t, map[string]string{
		".scalafmt.conf": "maxColumn = 100\n",
		"src/A.scala":    "object A\n",
	})

	dispatcher, partitioner, _ := setup(t, root, "fake-fmt")

	partitions, err := partitioner.Partitions(context.Background(), []string{"src/A.scala"})
	as.NoError(err)

	result, err := dispatcher.Apply(context.Background(), partitions[0])
	as.NoError(err)
	as.Equal(1, result.ChangedCount())

	_, err = dispatcher.WriteBack(result)
	as.NoError(err)

	// formatting already formatted content yields no changes
	result, err = dispatcher.Apply(context.Background(), partitions[0])
	as.NoError(err)
	as.Equal(0, result.ChangedCount())
}

func TestToolFailureSurfacesOutput(t *testing.T) {
	as := require.New(t)

	installTool(t, "angry-fmt", "#!/bin/sh\necho 'unable to parse config'\nexit 2\n")

	root := writeTree(t, map[string]string{
		".scalafmt.conf": "maxColumn = 100\n",
		"src/A.scala":    "object A\n",
	})

	dispatcher, partitioner, _ := setup(t, root, "angry-fmt")

	partitions, err := partitioner.Partitions(context.Background(), []string{"src/A.scala"})
	as.NoError(err)

	_, err = dispatcher.Apply(context.Background(), partitions[0])
	as.Error(err)

	var toolErr *dispatch.ToolError

	as.ErrorAs(err, &toolErr)
	as.Equal(".scalafmt.conf", toolErr.ConfigFile)
	// the tool's own diagnostic output is carried verbatim
	as.Contains(string(toolErr.Output), "unable to parse config")
	as.Contains(err.Error(), "unable to parse config")
}

func TestApplyAllIsolatesFailures(t *testing.T) {
	as := require.New(t)

	// fails only for files governed by the nested config
	script := `#!/bin/sh
config=""
for arg in "$@"; do
  case "$arg" in
    --config=*) config="${arg#--config=}" ;;
  esac
done
case "$config" in
  src/broken/*) echo "boom"; exit 1 ;;
esac
exit 0
`
	installTool(t, "picky-fmt", script)

	root := writeTree(t, map[string]string{
		".scalafmt.conf":            "maxColumn = 100\n",
		"src/ok/A.scala":            "object A\n",
		"src/broken/.scalafmt.conf": "maxColumn = 120\n",
		"src/broken/B.scala":        "object B\n",
	})

	dispatcher, partitioner, _ := setup(t, root, "picky-fmt")

	partitions, err := partitioner.Partitions(context.Background(), []string{"src/ok/A.scala", "src/broken/B.scala"})
	as.NoError(err)
	as.Len(partitions, 2)

	results, err := dispatcher.ApplyAll(context.Background(), partitions)
	as.Error(err)

	var toolErr *dispatch.ToolError

	as.ErrorAs(err, &toolErr)
	as.Equal("src/broken/.scalafmt.conf", toolErr.ConfigFile)

	// the sibling partition completed independently
	as.Len(results, 2)
	as.NotNil(results[0])
	as.Equal(partition.FileSet{"src/ok/A.scala"}, results[0].Partition.Files)
	as.Nil(results[1])
}

func TestCommandNotFound(t *testing.T) {
	as := require.New(t)

	root := writeTree(t, map[string]string{".scalafmt.conf": "maxColumn = 100\n"})

	cfg := &config.Config{
		TreeRoot: root,
		Tool: config.Tool{
			Name:       "scalafmt",
			Command:    "no-such-formatter-anywhere",
			ConfigFile: ".scalafmt.conf",
		},
	}

	_, err := dispatch.NewDispatcher(cfg, content.NewStore())
	as.ErrorIs(err, dispatch.ErrCommandNotFound)
}
