package commands

import (
	"github.com/spf13/cobra"

	"github.com/keepkey/hostcore/internal/proto"
)

func pingCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a Ping and print the echoed Success response",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.Ping{Message: message}
			id, body, err := cli.Call(proto.MessageIDPing, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "text to echo back")

	return cmd
}
