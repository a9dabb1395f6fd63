package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/pkg/events"
	"github.com/offlinefirst/screenreel/pkg/faults"
	"github.com/offlinefirst/screenreel/pkg/project"
)

func (rc *RootCommand) validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a project bundle's documents, event log and media references",
		ArgsUsage: "<bundle>",
		Action: func(c *cli.Context) error {
			app, err := rc.ensureAppContext(c)
			if err != nil {
				return err
			}
			root, err := bundleArg(c)
			if err != nil {
				return err
			}
			report, err := validateBundle(root)
			for _, line := range report {
				fmt.Fprintln(rc.stdout, line)
			}
			if err != nil {
				app.Logger.Warn("bundle invalid", "bundle", root, "error", err)
				return err
			}
			fmt.Fprintf(rc.stdout, "Bundle %s is valid\n", root)
			return nil
		},
	}
}

// validateBundle returns human readable findings plus the joined validation errors.
func validateBundle(root string) ([]string, error) {
	layout := project.BuildLayout(root)
	var (
		report []string
		errs   []error
	)

	p, mig, err := project.Load(layout.ProjectPath)
	if err != nil {
		return report, faults.NewSchema(layout.ProjectPath, err)
	}
	if mig.Legacy {
		report = append(report, fmt.Sprintf("project.json: legacy document, defaulted %s", strings.Join(mig.Defaulted, ", ")))
	}
	if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("project.json: %w", err))
	}
	if err := p.ValidateSources(layout.Root); err != nil {
		errs = append(errs, fmt.Errorf("media: %w", err))
	}

	tl, tmig, err := project.LoadTimeline(layout.TimelinePath)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("timeline.json: %w", err))
	default:
		if tmig.Legacy {
			report = append(report, fmt.Sprintf("timeline.json: legacy document, defaulted %s", strings.Join(tmig.Defaulted, ", ")))
		}
		if err := tl.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("timeline.json: %w", err))
		}
		report = append(report, fmt.Sprintf("timeline.json: %d keyframes, %d cuts", len(tl.Keyframes), len(tl.Cuts)))
	}

	stream, err := events.ReadAll(layout.EventsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		report = append(report, "events.jsonl: missing, export will use the timeline alone")
	case err != nil:
		errs = append(errs, fmt.Errorf("events.jsonl: %w", err))
	default:
		report = append(report, fmt.Sprintf("events.jsonl: %d events over %.3fs (space %s)",
			len(stream.Events), stream.LastSeconds(), stream.Header.PointerCoordinateSpace))
		if stream.Resorted {
			report = append(report, "events.jsonl: timestamps out of order, re-sorted on read")
		}
	}

	if len(errs) > 0 {
		return report, faults.NewSchema(layout.Root, errors.Join(errs...))
	}
	return report, nil
}
