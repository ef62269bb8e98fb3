package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "write a default plugindb.toml into the root",
		Action: initAction,
	}
}

func initAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() > 0 {
		return fmt.Errorf("init does not accept arguments")
	}

	s, err := resolveStore(cmd)
	if err != nil {
		return err
	}
	if s.IsInitialized() {
		return fmt.Errorf("plugindb is already initialized in %s", s.Root)
	}
	if err := s.Init(); err != nil {
		return err
	}

	fmt.Printf("initialized plugindb in %s\n", s.Root)
	return nil
}
