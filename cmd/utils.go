package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/olimci/plugindb/pkg/store"
	"github.com/urfave/cli/v3"
)

func isVerbose(cmd *cli.Command) bool {
	if cmd == nil {
		return false
	}
	if cmd.Bool("verbose") {
		return true
	}
	root := cmd.Root()
	return root != nil && root.Bool("verbose")
}

func newLogger(cmd *cli.Command) (*slog.Logger, error) {
	level := slog.LevelWarn
	if raw := strings.TrimSpace(cmd.Root().String("log-level")); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", raw)
		}
	}
	if isVerbose(cmd) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func resolveStore(cmd *cli.Command) (store.Store, error) {
	if root := strings.TrimSpace(cmd.Root().String("root")); root != "" {
		return store.Open(root)
	}
	return store.DefaultStore()
}

// openWorkspace opens the installation selected by --root. Callers must
// Close it so the checksum cache is kept.
func openWorkspace(cmd *cli.Command) (*store.Workspace, error) {
	s, err := resolveStore(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	return s.Workspace(logger)
}

func closeWorkspace(ws *store.Workspace, err *error) {
	if cerr := ws.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
