package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func recalcDepsCommand() *cli.Command {
	return &cli.Command{
		Name:      "recalc-deps",
		Usage:     "rebuild dependency edges without publishing new versions",
		ArgsUsage: "[files...]",
		Action:    recalcDepsAction,
	}
}

func recalcDepsAction(_ context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	changes, err := ws.RecalcDeps(cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Println("dependencies are up to date")
		return nil
	}

	fmt.Printf("%d dependency change(s)\n", len(changes))
	for _, c := range changes {
		fmt.Printf("  %s\n", c)
	}
	return nil
}
