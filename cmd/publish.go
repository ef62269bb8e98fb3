package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/store"
	"github.com/urfave/cli/v3"
)

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Aliases:   []string{"upload"},
		Usage:     "upload changed files and the registry",
		ArgsUsage: "[files...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "upload-to",
				Usage: "target directory or s3://bucket/prefix (default: options.upload_to)",
			},
			&cli.BoolFlag{
				Name:  "auto",
				Usage: "include dependencies that need uploading too",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "fail on the first file whose status does not allow the action",
			},
			&cli.BoolFlag{
				Name:  "remove",
				Usage: "mark the files as removed instead of uploading them",
			},
		},
		Action: publishAction,
	}
}

func publishAction(ctx context.Context, cmd *cli.Command) (err error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer closeWorkspace(ws, &err)

	res, err := ws.Publish(ctx, store.PublishOptions{
		Files:  cmd.Args().Slice(),
		Remove: cmd.Bool("remove"),
		Auto:   cmd.Bool("auto"),
		Strict: cmd.Bool("strict"),
		Target: cmd.String("upload-to"),
	})

	var implied *resolve.ImpliedUploadsError
	if errors.As(err, &implied) {
		fmt.Printf("%s also needs:\n", implied.Action)
		for _, name := range implied.Implied {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println("re-run with --auto to include them")
	}
	if err != nil {
		return err
	}

	for _, rej := range res.Plan.Rejected {
		fmt.Printf("skipped %s: %s\n", rej.File, rej.Error())
	}
	if res.NoOp {
		fmt.Println("nothing to publish")
		return nil
	}

	target := res.Target
	if target == "" {
		target = "the local registry"
	}
	fmt.Printf("published %d file(s), removed %d to %s\n", len(res.Uploaded), len(res.Removed), target)
	printFiles(cmd, "uploaded", res.Uploaded)
	printFiles(cmd, "removed", res.Removed)
	printFiles(cmd, "sent missing version", res.Backfilled)
	if isVerbose(cmd) {
		for _, c := range res.Edges {
			fmt.Printf("  %s\n", c)
		}
	}
	return nil
}
