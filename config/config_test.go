package config_test

import (
	"path/filepath"
	"testing"

	"github.com/partfmt/partfmt/config"
	"github.com/partfmt/partfmt/test"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// newViper creates a viper instance wired up with our flag set and the given config
// file, mirroring how the root command assembles its configuration.
func newViper(t *testing.T, configPath string) (*viper.Viper, *pflag.FlagSet) {
	t.Helper()

	as := require.New(t)

	v, err := config.NewViper()
	as.NoError(err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.SetFlags(flags)
	as.NoError(v.BindPFlags(flags))

	if configPath != "" {
		v.SetConfigFile(configPath)
		as.NoError(v.ReadInConfig())
	}

	return v, flags
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "partfmt.toml")
	test.WriteConfig(t, path, cfg)

	return path
}

func TestDefaults(t *testing.T) {
	as := require.New(t)

	path := writeConfig(t, &config.Config{
		Tool: config.Tool{Command: "scalafmt"},
	})

	v, _ := newViper(t, path)

	cfg, err := config.FromViper(v)
	as.NoError(err)

	as.Equal("scalafmt", cfg.Tool.Name)
	as.Equal(".scalafmt.conf", cfg.Tool.ConfigFile)
	as.Equal("org.scalafmt.cli.Cli", cfg.Tool.MainClass)
	as.Equal([]string{"**.scala"}, cfg.Tool.Includes)
	as.Equal("warn", cfg.OnOrphaned)
	as.Equal("auto", cfg.Walk)
	as.False(cfg.Skip)

	// tree root defaults to the directory containing the config file
	as.Equal(filepath.Dir(path), cfg.TreeRoot)
}

func TestEnvAndFlagPrecedence(t *testing.T) {
	as := require.New(t)

	path := writeConfig(t, &config.Config{
		OnOrphaned: "ignore",
		Tool: config.Tool{
			Command:    "scalafmt",
			ConfigFile: ".scalafmt.conf",
		},
	})

	// env beats the config file
	t.Setenv("PARTFMT_ON_ORPHANED", "error")
	t.Setenv("PARTFMT_TOOL_CONFIG_FILE", ".scalafmt-ci.conf")

	v, flags := newViper(t, path)

	cfg, err := config.FromViper(v)
	as.NoError(err)
	as.Equal("error", cfg.OnOrphaned)
	as.Equal(".scalafmt-ci.conf", cfg.Tool.ConfigFile)

	// an explicit flag beats both
	as.NoError(flags.Set("on-orphaned", "warn"))

	cfg, err = config.FromViper(v)
	as.NoError(err)
	as.Equal("warn", cfg.OnOrphaned)
}

func TestToolRequiresCommandOrClasspath(t *testing.T) {
	as := require.New(t)

	path := writeConfig(t, &config.Config{})

	v, _ := newViper(t, path)

	_, err := config.FromViper(v)
	as.ErrorContains(err, "requires either a command or a classpath")

	// a classpath alone is enough, the tool runs via the jvm
	path = writeConfig(t, &config.Config{
		Tool: config.Tool{Classpath: []string{"libs/scalafmt-cli.jar"}},
	})

	v, _ = newViper(t, path)

	cfg, err := config.FromViper(v)
	as.NoError(err)
	as.Equal("", cfg.Tool.Command)
	as.Equal("org.scalafmt.cli.Cli", cfg.Tool.MainClass)
}

func TestInvalidOnOrphaned(t *testing.T) {
	as := require.New(t)

	path := writeConfig(t, &config.Config{
		OnOrphaned: "panic",
		Tool:       config.Tool{Command: "scalafmt"},
	})

	v, _ := newViper(t, path)

	_, err := config.FromViper(v)
	as.ErrorContains(err, "invalid on-orphaned value")
}

func TestCIMode(t *testing.T) {
	as := require.New(t)

	path := writeConfig(t, &config.Config{
		Tool: config.Tool{Command: "scalafmt"},
	})

	t.Setenv("PARTFMT_CI", "true")

	v, _ := newViper(t, path)

	cfg, err := config.FromViper(v)
	as.NoError(err)
	as.True(cfg.CI)
	as.True(cfg.NoCache)
	as.True(cfg.FailOnChange)
	as.GreaterOrEqual(cfg.Verbose, uint8(1))
}

func TestCacheFlagsNotAllowedInConfig(t *testing.T) {
	as := require.New(t)

	path := filepath.Join(t.TempDir(), "partfmt.toml")

	// hand-written toml since the struct cannot express these keys
	contents := "no-cache = true\nclear-cache = true\n\n[tool]\ncommand = \"scalafmt\"\n"
	f := test.TempFile(t, filepath.Dir(path), "partfmt.*.toml", &contents)

	v, _ := newViper(t, f.Name())

	cfg, err := config.FromViper(v)
	as.NoError(err)

	// cache control is per invocation, values from the config file are discarded
	as.False(cfg.NoCache)
	as.False(cfg.ClearCache)
}

func TestTreeRootFile(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)

	path := filepath.Join(tempDir, "modules", "core", "partfmt.toml")
	test.WriteConfig(t, path, &config.Config{
		TreeRootFile: ".scalafmt.conf",
		Tool:         config.Tool{Command: "scalafmt"},
	})

	test.ChangeWorkDir(t, filepath.Join(tempDir, "modules", "core"))

	v, _ := newViper(t, path)

	cfg, err := config.FromViper(v)
	as.NoError(err)

	// modules/core has its own .scalafmt.conf, the search stops there
	as.Equal(filepath.Join(tempDir, "modules", "core"), cfg.TreeRoot)
}

func TestFindUp(t *testing.T) {
	as := require.New(t)

	tempDir := test.TempExamples(t)

	path, dir, err := config.FindUp(filepath.Join(tempDir, "src", "main", "scala", "app"), ".scalafmt.conf")
	as.NoError(err)
	as.Equal(filepath.Join(tempDir, ".scalafmt.conf"), path)
	as.Equal(tempDir, dir)

	_, _, err = config.FindUp(tempDir, "no-such-file.conf")
	as.ErrorContains(err, "could not find")
}
