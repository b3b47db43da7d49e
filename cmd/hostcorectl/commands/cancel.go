package commands

import (
	"github.com/spf13/cobra"

	"github.com/keepkey/hostcore/internal/proto"
)

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Send Cancel, aborting whatever turn is in progress",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.Cancel{}
			id, body, err := cli.Call(proto.MessageIDCancel, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}

func buttonAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "button-ack",
		Short: "Send ButtonAck, acknowledging a pending ButtonRequest",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.ButtonAck{}
			id, body, err := cli.Call(proto.MessageIDButtonAck, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}
