package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/indexwatch/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path (default indexwatch.yaml, skipped when absent)"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" enum:"text,json" default:"text" help:"Log output format (text or json)"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run   RunCmd   `cmd:"" default:"withargs" help:"Watch a directory and re-index on change (default command)"`
	Probe ProbeCmd `cmd:"" help:"Check that the indexing backend can be launched"`
	Init  InitCmd  `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(newLogger(os.Stderr, c.Verbose, c.LogFormat))
	return nil
}

func newLogger(w *os.File, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configured file. The default path may be absent.
func (c *CLI) loadConfig() (*config.Config, error) {
	if c.Config == "" {
		return config.Load(config.DefaultPath, false)
	}
	return config.Load(c.Config, true)
}

// configPath returns the file init writes to.
func (c *CLI) configPath() string {
	if c.Config == "" {
		return config.DefaultPath
	}
	return c.Config
}
