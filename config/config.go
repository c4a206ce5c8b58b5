package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/partfmt/partfmt/resolve"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents a fully resolved partfmt configuration.
type Config struct {
	CI               bool     `mapstructure:"ci" toml:"ci,omitempty"`
	ClearCache       bool     `mapstructure:"clear-cache" toml:"-"` // not allowed in config
	Excludes         []string `mapstructure:"excludes" toml:"excludes,omitempty"`
	FailOnChange     bool     `mapstructure:"fail-on-change" toml:"fail-on-change,omitempty"`
	NoCache          bool     `mapstructure:"no-cache" toml:"-"` // not allowed in config
	OnOrphaned       string   `mapstructure:"on-orphaned" toml:"on-orphaned,omitempty"`
	Skip             bool     `mapstructure:"skip" toml:"skip,omitempty"`
	TreeRoot         string   `mapstructure:"tree-root" toml:"tree-root,omitempty"`
	TreeRootFile     string   `mapstructure:"tree-root-file" toml:"tree-root-file,omitempty"`
	Verbose          uint8    `mapstructure:"verbose" toml:"verbose,omitempty"`
	Walk             string   `mapstructure:"walk" toml:"walk,omitempty"`
	WorkingDirectory string   `mapstructure:"working-dir" toml:"-"`

	Tool Tool `mapstructure:"tool" toml:"tool,omitempty"`
}

// Tool describes the external formatting tool being partitioned over.
type Tool struct {
	// Name is the display name for the tool, used in logs and error messages.
	Name string `mapstructure:"name" toml:"name,omitempty"`
	// Command is the tool executable. When empty, the tool is run as a JVM process
	// from the materialized classpath using MainClass.
	Command string `mapstructure:"command" toml:"command,omitempty"`
	// MainClass is the JVM entry point used when Command is empty.
	MainClass string `mapstructure:"main-class" toml:"main-class,omitempty"`
	// ConfigFile is the config filename searched upward from each source directory,
	// e.g. `.scalafmt.conf`.
	ConfigFile string `mapstructure:"config-file" toml:"config-file,omitempty"`
	// Includes is a list of glob patterns selecting the files the tool formats.
	Includes []string `mapstructure:"includes,omitempty" toml:"includes,omitempty"`
	// Excludes is an optional list of glob patterns opting files out of formatting.
	Excludes []string `mapstructure:"excludes,omitempty" toml:"excludes,omitempty"`
	// Options are passed through verbatim to the tool ahead of the file arguments.
	Options []string `mapstructure:"options,omitempty" toml:"options,omitempty"`
	// Classpath lists the resolved toolchain artifacts (jars) required to run the tool.
	Classpath []string `mapstructure:"classpath,omitempty" toml:"classpath,omitempty"`
	// JvmOptions are extra options for the JVM when running via MainClass.
	JvmOptions []string `mapstructure:"jvm-options,omitempty" toml:"jvm-options,omitempty"`
}

// SetFlags appends our flags to the provided flag set.
// Flag names match the mapstructure tags of the corresponding Config fields; the tool
// section is only configurable via the config file or `PARTFMT_TOOL_*` env variables.
func SetFlags(fs *pflag.FlagSet) {
	fs.Bool(
		"ci", false,
		"Runs partfmt in a CI mode, enabling --no-cache, --fail-on-change and adjusting some other settings "+
			"best suited to a CI use case. (env $PARTFMT_CI)",
	)
	fs.BoolP(
		"clear-cache", "c", false,
		"Reset the evaluation cache. Use in case the cache is not precise enough. (env $PARTFMT_CLEAR_CACHE)",
	)
	fs.StringSlice(
		"excludes", nil,
		"Exclude files or directories matching the specified globs. (env $PARTFMT_EXCLUDES)",
	)
	fs.Bool(
		"fail-on-change", false,
		"Exit with error if any changes were made. Useful for CI. (env $PARTFMT_FAIL_ON_CHANGE)",
	)
	fs.Bool(
		"no-cache", false,
		"Ignore the evaluation cache entirely. Useful for CI. (env $PARTFMT_NO_CACHE)",
	)
	fs.StringP(
		"on-orphaned", "u", "warn",
		"Behaviour when a file has no discoverable tool config file. Possible values are "+
			"<ignore|warn|error>. (env $PARTFMT_ON_ORPHANED)",
	)
	fs.Bool(
		"skip", false,
		"Skip formatting entirely, producing no tool invocations. (env $PARTFMT_SKIP)",
	)
	fs.String(
		"tree-root", "",
		"The root directory from which partfmt will start walking the filesystem (defaults to the directory "+
			"containing the config file). (env $PARTFMT_TREE_ROOT)",
	)
	fs.String(
		"tree-root-file", "",
		"File to search for to find the tree root (if --tree-root is not passed). (env $PARTFMT_TREE_ROOT_FILE)",
	)
	fs.CountP(
		"verbose", "v",
		"Set the verbosity of logs e.g. -vv. (env $PARTFMT_VERBOSE)",
	)
	fs.String(
		"walk", "auto",
		"The method used to traverse the files within the tree root. Currently supports "+
			"<auto|git|filesystem>. (env $PARTFMT_WALK)",
	)
	fs.StringP(
		"working-dir", "C", ".",
		"Run as if partfmt was started in the specified working directory instead of the current working "+
			"directory. (env $PARTFMT_WORKING_DIR)",
	)
}

// NewViper creates a Viper instance pre-configured with the following options:
// * TOML config type
// * automatic env enabled
// * `PARTFMT_` env prefix for environment variables
// * replacement of `-` and `.` with `_` when mapping flags to env e.g. `tool.config-file` => `PARTFMT_TOOL_CONFIG_FILE`.
func NewViper() (*viper.Viper, error) {
	v := viper.New()

	// Enforce toml (may open this up to other formats in the future)
	v.SetConfigType("toml")

	// Allow env overrides for config and flags.
	v.SetEnvPrefix("partfmt")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	return v, nil
}

// FromViper takes a viper instance and produces a Config instance.
func FromViper(v *viper.Viper) (*Config, error) {
	configReset := map[string]any{
		"ci":          false,
		"clear-cache": false,
		"no-cache":    false,
		"working-dir": ".",
	}

	// reset certain values which are not allowed to be specified in the config file
	if err := v.MergeConfigMap(configReset); err != nil {
		return nil, fmt.Errorf("failed to overwrite config values: %w", err)
	}

	var err error

	cfg := &Config{}

	if err = v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// resolve the working directory to an absolute path
	cfg.WorkingDirectory, err = filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for working directory: %w", err)
	}

	// determine the tree root
	if cfg.TreeRoot == "" {
		if cfg.TreeRootFile != "" {
			// search for the tree root using the --tree-root-file if specified
			_, cfg.TreeRoot, err = FindUp(cfg.WorkingDirectory, cfg.TreeRootFile)
			if err != nil {
				return nil, fmt.Errorf("failed to find tree-root based on tree-root-file: %w", err)
			}
		} else {
			// otherwise fallback to the directory containing the config file
			cfg.TreeRoot = filepath.Dir(v.ConfigFileUsed())
		}
	}

	// resolve tree root to an absolute path
	if cfg.TreeRoot, err = filepath.Abs(cfg.TreeRoot); err != nil {
		return nil, fmt.Errorf("failed to get absolute path for tree root: %w", err)
	}

	// default the tool section for scalafmt
	if cfg.Tool.Name == "" {
		cfg.Tool.Name = "scalafmt"
	}

	if cfg.Tool.ConfigFile == "" {
		cfg.Tool.ConfigFile = ".scalafmt.conf"
	}

	if cfg.Tool.MainClass == "" {
		cfg.Tool.MainClass = "org.scalafmt.cli.Cli"
	}

	if len(cfg.Tool.Includes) == 0 {
		cfg.Tool.Includes = []string{"**.scala"}
	}

	if cfg.Tool.Command == "" && len(cfg.Tool.Classpath) == 0 {
		return nil, fmt.Errorf("tool config requires either a command or a classpath to run %s", cfg.Tool.Name)
	}

	// validate the orphan behavior early so a bad value fails before any work is done
	if cfg.OnOrphaned == "" {
		cfg.OnOrphaned = "warn"
	}

	if _, err := resolve.OrphanBehaviorString(cfg.OnOrphaned); err != nil {
		return nil, fmt.Errorf("invalid on-orphaned value: %w", err)
	}

	// ci mode
	if cfg.CI {
		cfg.NoCache = true
		cfg.FailOnChange = true

		// ensure at least info level logging
		if cfg.Verbose < 1 {
			cfg.Verbose = 1
		}
	}

	return cfg, nil
}

// Find searches dir for the first of the given file names, without walking upward.
func Find(dir string, fileNames ...string) (string, error) {
	for _, f := range fileNames {
		path := filepath.Join(dir, f)
		if fileExists(path) {
			return path, nil
		}
	}

	return "", fmt.Errorf("could not find %s in %s", fileNames, dir)
}

// FindUp searches upwards from searchDir for the first of the given file names.
func FindUp(searchDir string, fileNames ...string) (path string, dir string, err error) {
	for _, dir := range eachDir(searchDir) {
		for _, f := range fileNames {
			path := filepath.Join(dir, f)
			if fileExists(path) {
				return path, dir, nil
			}
		}
	}

	return "", "", fmt.Errorf("could not find %s in %s", fileNames, searchDir)
}

func eachDir(path string) (paths []string) {
	path, err := filepath.Abs(path)
	if err != nil {
		return
	}

	paths = []string{path}

	if path == "/" {
		return
	}

	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == os.PathSeparator {
			path = path[:i]
			if path == "" {
				path = "/"
			}

			paths = append(paths, path)
		}
	}

	return
}

func fileExists(path string) bool {
	// Some broken filesystems like SSHFS return file information on stat() but
	// then cannot open the file. So we use os.Open.
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	// Next, check that the file is a regular file.
	fi, err := f.Stat()
	if err != nil {
		return false
	}

	return fi.Mode().IsRegular()
}
