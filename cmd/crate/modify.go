package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/meigma/crate"
)

func newModifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "modify",
		Usage:     "Rename or delete entries, optionally adding new paths",
		ArgsUsage: "<archive> [paths...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "rename", Aliases: []string{"r"}, Usage: "Rename entry INDEX to NAME, written INDEX=NAME (can be repeated)"},
			&cli.StringSliceFlag{Name: "delete", Aliases: []string{"D"}, Usage: "Delete entry INDEX (can be repeated)"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Archive password", Sources: cli.EnvVars("CRATE_PASSWORD")},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() < 1 {
				return errors.New("usage: crate modify <archive> [paths...]")
			}
			mods, err := parseModifications(command.StringSlice("rename"), command.StringSlice("delete"))
			if err != nil {
				return err
			}

			opts := []crate.Option{crate.WithLogger(getLogger(ctx))}
			if pw := command.String("password"); pw != "" {
				opts = append(opts, crate.WithPassword(pw))
			}
			archive := command.Args().First()
			a, err := crate.Open(archive, crate.OpenWithPassword(command.String("password")))
			if err != nil {
				return err
			}
			opts = append(opts, crate.WithFormat(a.Format()))
			if err := a.Close(); err != nil {
				return err
			}

			c, err := crate.NewCompressor(opts...)
			if err != nil {
				return err
			}
			if err := c.ModifyArchive(ctx, archive, mods, command.Args().Tail()...); err != nil {
				return err
			}
			newPrinter(command.Root().Writer).ok("%s: %d renamed, %d deleted, %d added",
				archive, len(mods)-countDeletes(mods), countDeletes(mods), len(command.Args().Tail()))
			return nil
		},
	}
}

// parseModifications turns INDEX=NAME renames and INDEX deletes into
// modifications. An index may appear only once.
func parseModifications(renames, deletes []string) (crate.Modifications, error) {
	mods := make(crate.Modifications, len(renames)+len(deletes))
	add := func(raw string, m crate.Modification) error {
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || i < 0 {
			return fmt.Errorf("invalid entry index %q", raw)
		}
		if _, dup := mods[i]; dup {
			return fmt.Errorf("entry %d modified more than once", i)
		}
		mods[i] = m
		return nil
	}
	for _, r := range renames {
		idx, name, ok := strings.Cut(r, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid rename %q, want INDEX=NAME", r)
		}
		if err := add(idx, crate.Rename(name)); err != nil {
			return nil, err
		}
	}
	for _, d := range deletes {
		if err := add(d, crate.Delete()); err != nil {
			return nil, err
		}
	}
	return mods, nil
}

func countDeletes(mods crate.Modifications) int {
	n := 0
	for _, m := range mods {
		if m.IsDelete() {
			n++
		}
	}
	return n
}
