package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/olimci/plugindb/pkg/status"
	"github.com/urfave/cli/v3"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "compare local files against the registry",
		ArgsUsage: "[files...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "include up-to-date and removed files",
			},
		},
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	snapshot, err := ws.Status(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}

	if p := snapshot.Lock.Publish; p != nil {
		target := p.Target
		if target == "" {
			target = "local registry only"
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("last publish %s to %s", p.Timestamp, target)))
	}

	entries := snapshot.Changed()
	if cmd.Bool("all") || cmd.Args().Len() > 0 {
		entries = snapshot.Entries
	}

	if len(entries) == 0 {
		fmt.Println("everything is up to date")
		return nil
	}

	width := labelWidth()
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-*s  %s", width, "Status", "File")))
	for _, e := range entries {
		fmt.Printf("%s  %s\n", statusCell(e.Status, width), e.Name)
	}

	var counted []status.Status
	for st := range snapshot.Counts {
		counted = append(counted, st)
	}
	sort.Slice(counted, func(i, j int) bool { return counted[i] < counted[j] })

	fmt.Println()
	for _, st := range counted {
		fmt.Printf("%6d  %s\n", snapshot.Counts[st], st.Label())
	}
	return nil
}
