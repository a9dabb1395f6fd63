package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func (rc *RootCommand) versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the CLI version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintln(rc.stdout, versionString())
			return err
		},
	}
}
