package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "record the file versions of an older installation as previous versions",
		ArgsUsage: "<previous-installation>",
		Action:    syncAction,
	}
}

func syncAction(ctx context.Context, cmd *cli.Command) (err error) {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("sync requires exactly one installation path")
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	added, err := ws.Sync(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("added %d previous version(s)\n", len(added))
	if isVerbose(cmd) {
		for _, v := range added {
			fmt.Printf("  %s %s %s\n", v.Name, v.Version.Timestamp, v.Version.Checksum)
		}
	}
	return nil
}
