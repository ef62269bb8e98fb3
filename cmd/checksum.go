package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func checksumCommand() *cli.Command {
	return &cli.Command{
		Name:      "checksum",
		Usage:     "print filename, timestamp and checksum of local files",
		ArgsUsage: "[paths...]",
		Action:    checksumAction,
	}
}

func checksumAction(ctx context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	entries, err := ws.Checksums(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %s %s\n", e.Name, e.Timestamp, e.Checksum)
	}
	return nil
}
