package commands

import (
	"github.com/spf13/cobra"

	"github.com/keepkey/hostcore/internal/proto"
)

func initializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initialize",
		Short: "Send Initialize, resetting any in-progress session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.Initialize{}
			id, body, err := cli.Call(proto.MessageIDInitialize, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}
