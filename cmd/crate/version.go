package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/urfave/cli/v3"
)

// Build information populated at init() from debug.ReadBuildInfo().
var (
	Version   = "unknown"
	GoVersion = "unknown"
	Commit    = "unknown"
	Modified  bool
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = info.Main.Version
	GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			Commit = setting.Value
		case "vcs.modified":
			Modified = setting.Value == "true"
		}
	}
}

func newVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, command *cli.Command) error {
			w := command.Root().Writer
			fmt.Fprintf(w, "version: %s\n", Version)
			fmt.Fprintf(w, "go: %s\n", GoVersion)
			if Commit != "unknown" {
				if Modified {
					fmt.Fprintf(w, "commit: %s (dirty)\n", Commit)
				} else {
					fmt.Fprintf(w, "commit: %s\n", Commit)
				}
			}
			return nil
		},
	}
}
