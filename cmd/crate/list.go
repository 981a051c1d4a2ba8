package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/meigma/crate"
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List the entries of an archive",
		ArgsUsage: "<archive>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Archive password", Sources: cli.EnvVars("CRATE_PASSWORD")},
			&cli.BoolFlag{Name: "verify", Usage: "Decode every entry and check its checksums"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return errors.New("usage: crate list <archive>")
			}
			a, err := crate.Open(command.Args().First(),
				crate.OpenWithPassword(command.String("password")),
				crate.OpenWithLogger(getLogger(ctx)),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			p := newPrinter(command.Root().Writer)
			summary := fmt.Sprintf("format %s, %d entries", a.Format(), a.Len())
			if a.Volumes() > 0 {
				summary += fmt.Sprintf(", %d volumes", a.Volumes())
			}
			if a.HeaderEncrypted() {
				summary += ", encrypted headers"
			}
			p.info("%s", p.gray(summary))

			tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tsize\tpacked\tmethod\tpath")
			for _, e := range a.Entries() {
				method := e.Method.String()
				if e.Encrypted {
					method += "*"
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", e.Index, e.Size, e.PackedSize, method, e.Path)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if command.Bool("verify") {
				if err := a.Verify(ctx); err != nil {
					p.fail("verification failed: %v", err)
					return err
				}
				p.ok("all entries verified")
			}
			return nil
		},
	}
}
