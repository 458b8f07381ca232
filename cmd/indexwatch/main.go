package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/indexwatch/cmd/indexwatch/commands"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/version"
)

func main() {
	var cli commands.CLI
	parser := kong.Parse(&cli,
		kong.Name("indexwatch"),
		kong.Description("Re-run an indexer when files change, optionally alongside its companion server."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)

	err := parser.Run(&commands.Global{Logger: slog.Default()}, &cli)
	ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
