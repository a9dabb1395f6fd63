package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/offlinefirst/screenreel/pkg/history"
)

func (rc *RootCommand) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List previous export runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "Only runs for this project id"},
			&cli.StringFlag{Name: "state", Usage: "Only runs in this state (running, completed, failed)"},
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum rows"},
		},
		Action: func(c *cli.Context) error {
			app, err := rc.ensureAppContext(c)
			if err != nil {
				return err
			}
			store, err := history.Open(app.Config.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(c.Context, history.ListOptions{
				ProjectID: c.String("project"),
				State:     c.String("state"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(rc.stdout, "No export runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(rc.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tRUN\tPROJECT\tFORMAT\tSTATE\tFRAMES\tELAPSED\tOUTPUT")
			for _, r := range runs {
				state := r.State
				if r.ErrorCode != "" {
					state += " (" + r.ErrorCode + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.RunID, r.ProjectName, r.Format,
					state, r.Frames, r.Elapsed().Round(time.Millisecond), r.Output)
			}
			return tw.Flush()
		},
	}
}
