package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/olimci/plugindb/pkg/graph"
	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:   "validate",
		Usage:  "check the registry invariants and the dependency graph",
		Action: validateAction,
	}
}

func validateAction(_ context.Context, cmd *cli.Command) (err error) {
	if cmd.Args().Len() > 0 {
		return fmt.Errorf("validate does not accept arguments")
	}

	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	res, err := ws.Validate()
	var cycle *graph.CycleError
	if errors.As(err, &cycle) {
		fmt.Println("dependency cycle:")
		for _, name := range cycle.Cycle {
			fmt.Printf("  %s\n", name)
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("registry is valid (%d file(s), %d obsolete, %d edge(s))\n", res.Files, res.Obsolete, res.Edges)
	if len(res.Stale) > 0 {
		fmt.Printf("%d stale edge(s), run recalc-deps to refresh:\n", len(res.Stale))
		for _, s := range res.Stale {
			if s.Removed {
				fmt.Printf("  %s -> %s (%s, removed)\n", s.File, s.Dependency, s.Recorded)
				continue
			}
			fmt.Printf("  %s -> %s (%s, now %s)\n", s.File, s.Dependency, s.Recorded, s.Current)
		}
	}
	return nil
}
