package config

import (
	"strings"
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/runner"
)

// Overrides carries command-line values. Zero values leave the loaded
// configuration untouched.
type Overrides struct {
	Mode             Mode
	WatchPath        string
	Target           string
	FlowFile         string
	Address          string
	DebounceSeconds  float64 // negative leaves the configured window
	NoRecursive      bool
	InitialIndex     bool
	IndexCommand     string
	CompanionCommand string
	IndexTimeout     time.Duration
	AdminAddress     string
	JournalPath      string
	NatsURL          string
	NoLock           bool
}

// Apply layers o over c.
func (c *Config) Apply(o Overrides) {
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	setString(&c.Watch.Path, o.WatchPath)
	setString(&c.Index.Target, o.Target)
	setString(&c.Companion.FlowFile, o.FlowFile)
	setString(&c.Companion.Address, o.Address)
	setString(&c.Index.Command, o.IndexCommand)
	setString(&c.Companion.Command, o.CompanionCommand)
	setString(&c.Admin.Address, o.AdminAddress)
	setString(&c.Journal.Path, o.JournalPath)
	setString(&c.Notify.NatsURL, o.NatsURL)
	if o.DebounceSeconds >= 0 {
		c.Watch.Debounce = time.Duration(o.DebounceSeconds * float64(time.Second))
	}
	if o.NoRecursive {
		c.Watch.Recursive = false
	}
	if o.InitialIndex {
		c.Index.Initial = true
	}
	if o.IndexTimeout > 0 {
		c.Index.Timeout = o.IndexTimeout
	}
	if o.NoLock {
		c.Lock = false
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// expand replaces {target}, {flow} and {address} placeholders in args.
func (c *Config) expand(args []string) []string {
	r := strings.NewReplacer(
		"{target}", c.Index.Target,
		"{flow}", c.Companion.FlowFile,
		"{address}", c.Companion.Address,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// IndexCommand returns the indexing invocation.
func (c *Config) IndexCommand() runner.Command {
	return runner.Command{Name: c.Index.Command, Args: c.expand(c.Index.Args), Dir: c.Index.Workdir}
}

// ProbeCommand returns the backend availability check.
func (c *Config) ProbeCommand() runner.Command {
	return runner.Command{Name: c.Index.Command, Args: c.expand(c.Index.VersionArgs), Dir: c.Index.Workdir}
}

// CompanionCommand returns the companion server invocation.
func (c *Config) CompanionCommand() runner.Command {
	return runner.Command{Name: c.Companion.Command, Args: c.expand(c.Companion.Args), Dir: c.Index.Workdir}
}
