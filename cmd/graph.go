package cmd

import (
	"bytes"
	"context"
	"os"

	"github.com/olimci/plugindb/pkg/utils/fileutils"
	"github.com/urfave/cli/v3"
)

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "write the dependency graph in Graphviz dot format",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write to a file instead of stdout",
			},
		},
		Action: graphAction,
	}
}

func graphAction(_ context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	out := cmd.String("output")
	if out == "" {
		return ws.WriteGraph(os.Stdout)
	}

	path, err := fileutils.AbsPath(out)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := ws.WriteGraph(&buf); err != nil {
		return err
	}
	return fileutils.WriteAtomic(path, &buf, 0o644)
}
