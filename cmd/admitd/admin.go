package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/toolink/admit/intercept"
	"github.com/toolink/admit/presets"
)

// ResetCmd deletes every window of an identifier across all presets.
type ResetCmd struct {
	Identifier string `arg:"" help:"Identifier to unblock, e.g. 203.0.113.9 or 203.0.113.9:alice@example.com."`
}

// Run implements the reset command.
func (c *ResetCmd) Run() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := adminContext(a.cfg.Storage.Timeout)
	defer cancel()
	n, err := a.engine.Reset(ctx, c.Identifier)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d key(s) for %s\n", n, c.Identifier)
	return nil
}

// StatusCmd peeks at an identifier's windows without counting a hit.
type StatusCmd struct {
	Identifier string `arg:"" help:"Identifier to inspect."`
	Preset     string `short:"p" help:"Only show this preset."`
}

// Run implements the status command.
func (c *StatusCmd) Run() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.presets()
	if err != nil {
		return err
	}
	if c.Preset != "" {
		list = slices.DeleteFunc(list, func(p presets.Preset) bool { return p.Name != c.Preset })
		if len(list) == 0 {
			return fmt.Errorf("unknown preset %q", c.Preset)
		}
	}

	ctx, cancel := adminContext(a.cfg.Storage.Timeout)
	defer cancel()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESET\tALGORITHM\tHITS\tREMAINING\tLIMITED\tRESET")
	for _, p := range list {
		d, err := a.engine.Peek(ctx, c.Identifier, p.Policy())
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n", p.Name, p.Algorithm, d.TotalHits, d.Remaining, d.Limited, d.ResetTime.UTC().Format(intercept.ResetLayout))
	}
	return tw.Flush()
}

// EventsCmd prints recent events as JSON lines.
type EventsCmd struct {
	Limit int `short:"n" default:"20" help:"Number of events to print."`
}

// Run implements the events command.
func (c *EventsCmd) Run() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := adminContext(a.cfg.Storage.Timeout)
	defer cancel()
	list, err := a.reader.Recent(ctx, c.Limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range list {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if len(list) == 0 {
		fmt.Fprintf(os.Stderr, "no events as of %s\n", time.Now().UTC().Format(time.RFC3339))
	}
	return nil
}
