package cmd

import (
	"context"

	"github.com/olimci/plugindb/pkg/version"
	"github.com/urfave/cli/v3"
)

// Commands:
// init
//   writes plugindb.toml with the defaults into the root
//
// status [files...]
//   compares the local files against db.xml.gz
//
// publish [files...]
//   - scan, derive statuses, resolve the upload (or --remove) closure
//   - abort when the closure adds files and --auto is not set
//   - transfer <name>-<timestamp> for each new version, then db.xml.gz
//   - replace the local registry last
//
// update [files...]
//   downloads db.xml.gz from the update source and installs/updates files,
//   uninstalling obsolete ones only with --uninstall-obsolete
//
// checksum, sync, recalc-deps, validate, graph
//   registry maintenance

func Execute(ctx context.Context, args []string) error {
	app := &cli.Command{
		Name:    "plugindb",
		Usage:   "maintain and publish a plugin update registry",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "installation root (default: $PLUGINDB_ROOT or the working directory)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log debug output and list every affected file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug|info|warn|error",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			statusCommand(),
			checksumCommand(),
			publishCommand(),
			updateCommand(),
			syncCommand(),
			recalcDepsCommand(),
			validateCommand(),
			graphCommand(),
			versionCommand(),
		},
	}

	return app.Run(ctx, args)
}
