package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/indexwatch/internal/runner"
)

// ProbeCmd runs the backend availability check on its own.
type ProbeCmd struct {
	IndexCommand string `name:"index-command" help:"Indexing executable (overrides index.command)"`
}

func (p *ProbeCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	setIfSet(&cfg.Index.Command, p.IndexCommand)

	r := runner.New(runner.Options{Logger: g.Logger})
	if err := r.Probe(context.Background(), cfg.ProbeCommand(), cfg.Index.ProbeTimeout); err != nil {
		return err
	}
	fmt.Printf("%s is available\n", cfg.Index.Command)
	return nil
}

func setIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
