package commands

import (
	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive hostcorectl shell",
		Long:  "Launches a console REPL over the same connected device, accepting hostcorectl subcommands until exited.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("hostcorectl")

			menu := app.ActiveMenu()
			menu.Short = "hostcorectl"
			menu.SetCommands(func() *cobra.Command {
				return rootCmd
			})

			return app.Start()
		},
	}
}
