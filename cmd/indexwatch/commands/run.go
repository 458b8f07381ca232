package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/indexwatch/internal/config"
	"git.home.luguber.info/inful/indexwatch/internal/daemon"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/shutdown"
)

// RunCmd watches a directory and supervises the companion server.
type RunCmd struct {
	WatchPath string `arg:"" optional:"" name:"watch-path" help:"Directory to watch (overrides watch.path)"`
	Target    string `arg:"" optional:"" name:"target" help:"Index target passed to the indexing command (overrides index.target)"`

	Mode          string  `name:"mode" enum:",watch,companion,both" default:"" help:"watch, companion or both (overrides mode)"`
	WithCompanion bool    `name:"with-companion" help:"Run the companion server alongside the watcher"`
	CompanionOnly bool    `name:"companion-only" help:"Run only the companion server"`
	Debounce      float64 `name:"debounce-seconds" default:"-1" help:"Minimum seconds between triggered runs (default 2.0)"`
	Address       string  `name:"address" help:"Companion bind address host:port (default 0.0.0.0:8000)"`
	FlowFile      string  `name:"flow-file" help:"Flow descriptor passed to the companion server"`
	NoRecursive   bool    `name:"no-recursive" help:"Watch only the top-level directory"`
	InitialIndex  bool    `name:"initial-index" help:"Run one index pass before watching"`

	IndexCommand     string        `name:"index-command" help:"Indexing executable (overrides index.command)"`
	CompanionCommand string        `name:"companion-command" help:"Companion executable (overrides companion.command)"`
	Timeout          time.Duration `name:"timeout" help:"Ceiling for one index run (default 300s)"`
	Admin            string        `name:"admin" help:"Admin HTTP address for /healthz, /status and /metrics"`
	Journal          string        `name:"journal" help:"SQLite journal path for run history"`
	NatsURL          string        `name:"nats-url" help:"NATS server for run notifications"`
	NoLock           bool          `name:"no-lock" help:"Allow several instances on the same watch path"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	o, err := r.overrides()
	if err != nil {
		return err
	}
	cfg.Apply(o)

	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	orch, err := daemon.New(cfg, daemon.Deps{Logger: logger})
	if err != nil {
		return err
	}

	state := shutdown.NewState()
	stop := notifyShutdown(state, logger)
	defer stop()

	return orch.Run(context.Background(), state)
}

func (r *RunCmd) overrides() (config.Overrides, error) {
	o := config.Overrides{
		WatchPath:        r.WatchPath,
		Target:           r.Target,
		FlowFile:         r.FlowFile,
		Address:          r.Address,
		DebounceSeconds:  r.Debounce,
		NoRecursive:      r.NoRecursive,
		InitialIndex:     r.InitialIndex,
		IndexCommand:     r.IndexCommand,
		CompanionCommand: r.CompanionCommand,
		IndexTimeout:     r.Timeout,
		AdminAddress:     r.Admin,
		JournalPath:      r.Journal,
		NatsURL:          r.NatsURL,
		NoLock:           r.NoLock,
	}

	if r.WithCompanion && r.CompanionOnly {
		return o, ferrors.ValidationError("--with-companion and --companion-only are mutually exclusive").Build()
	}
	switch {
	case r.CompanionOnly:
		o.Mode = config.ModeCompanion
	case r.WithCompanion:
		o.Mode = config.ModeBoth
	case r.Mode != "":
		mode, err := config.ParseMode(r.Mode)
		if err != nil {
			return o, err
		}
		o.Mode = mode
	}
	return o, nil
}

// notifyShutdown turns SIGINT and SIGTERM into a shutdown request. Repeated
// signals are logged and otherwise ignored.
func notifyShutdown(state *shutdown.State, logger *slog.Logger) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if state.Request(sig.String()) {
					logger.Info("Received signal; shutting down", slog.String("signal", sig.String()))
				} else {
					logger.Warn("Shutdown already in progress", slog.String("signal", sig.String()))
				}
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
