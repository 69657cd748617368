package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI runs migrator commands and prints a human readable report. It backs
// the `browserflow migrate` subcommand.
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

// SetOutput redirects the report, os.Stdout by default.
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

// Run dispatches one of: up, down, steps N, goto V, force V, version,
// status, info.
func (c *CLI) Run(ctx context.Context, command string, args ...string) error {
	arg := func() (int, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("%s needs exactly one numeric argument", command)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("%s: invalid number %q", command, args[0])
		}
		return n, nil
	}

	switch command {
	case "up":
		return c.apply(ctx, "Applying session schema migrations", c.migrator.Up)
	case "down":
		return c.apply(ctx, "Rolling back the latest migration", c.migrator.Down)
	case "steps":
		n, err := arg()
		if err != nil {
			return err
		}
		return c.apply(ctx, fmt.Sprintf("Running %d migration step(s)", n), func(ctx context.Context) error {
			return c.migrator.Steps(ctx, n)
		})
	case "goto":
		v, err := arg()
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("goto: version must not be negative")
		}
		return c.apply(ctx, fmt.Sprintf("Migrating to version %d", v), func(ctx context.Context) error {
			return c.migrator.Goto(ctx, uint(v))
		})
	case "force":
		v, err := arg()
		if err != nil {
			return err
		}
		return c.apply(ctx, fmt.Sprintf("Forcing version %d", v), func(ctx context.Context) error {
			return c.migrator.Force(ctx, v)
		})
	case "version":
		return c.version(ctx)
	case "status":
		return c.status(ctx)
	case "info":
		return c.info(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func (c *CLI) apply(ctx context.Context, title string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", title)
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.out, "Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Current version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "Total:\t%d\n", info.Total)
	fmt.Fprintf(w, "Applied:\t%d\n", info.Applied)
	fmt.Fprintf(w, "Pending:\t%d\n", info.Pending)
	return w.Flush()
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
