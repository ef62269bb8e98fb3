package cmd

import (
	"context"
	"fmt"

	"github.com/olimci/plugindb/pkg/store"
	"github.com/urfave/cli/v3"
)

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "install and update files from an update source",
		ArgsUsage: "[files...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "from",
				Usage: "source directory or s3://bucket/prefix (default: options.update_from)",
			},
			&cli.BoolFlag{
				Name:  "auto",
				Usage: "also fetch dependencies that are missing or stale",
			},
			&cli.BoolFlag{
				Name:  "uninstall-obsolete",
				Usage: "delete local files the registry marks as removed",
			},
		},
		Action: updateAction,
	}
}

func updateAction(ctx context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	res, err := ws.Update(ctx, store.UpdateOptions{
		Files:             cmd.Args().Slice(),
		From:              cmd.String("from"),
		Auto:              cmd.Bool("auto"),
		UninstallObsolete: cmd.Bool("uninstall-obsolete"),
	})
	if err != nil {
		return err
	}

	if res.Plan.Empty() {
		fmt.Printf("up to date with %s\n", res.Source)
	} else {
		fmt.Printf("installed %d, updated %d, uninstalled %d file(s) from %s\n",
			len(res.Installed), len(res.Updated), len(res.Uninstalled), res.Source)
		printFiles(cmd, "installed", res.Installed)
		printFiles(cmd, "updated", res.Updated)
		printFiles(cmd, "uninstalled", res.Uninstalled)
	}

	if len(res.Obsolete) > 0 {
		fmt.Printf("%d obsolete file(s) kept, use --uninstall-obsolete to delete them\n", len(res.Obsolete))
		printFiles(cmd, "obsolete", res.Obsolete)
	}
	printFiles(cmd, "nothing to do for", res.Skipped)
	return nil
}
