package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepkey/hostcore/internal/proto"
)

// eip712Cmd groups one subcommand per session message, so an operator can
// drive a typed-data signing session interactively (or scripted) the same
// way the host protocol itself is turn-by-turn.
func eip712Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eip712",
		Short: "Drive an EIP-712 typed-data session one message at a time",
	}

	cmd.AddCommand(eip712InitCmd())
	cmd.AddCommand(eip712PushCmd())
	cmd.AddCommand(eip712PopCmd())
	cmd.AddCommand(eip712AtomicCmd())
	cmd.AddCommand(eip712DynamicCmd())
	cmd.AddCommand(eip712SignCmd())
	cmd.AddCommand(eip712VerifyCmd())

	return cmd
}

func eip712InitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Start a new session and print the device's context limits",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.EIP712Init{}
			id, body, err := cli.Call(proto.MessageIDEIP712Init, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}

func parseFrameKind(s string) (proto.FrameKind, error) {
	switch s {
	case "struct":
		return proto.FrameKindStruct, nil
	case "array":
		return proto.FrameKindArray, nil
	case "dynamic":
		return proto.FrameKindDynamicData, nil
	default:
		return 0, fmt.Errorf("unknown --kind %q, expected struct, array, or dynamic", s)
	}
}

func eip712PushCmd() *cobra.Command {
	var kind, encodedType, fieldName string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a Struct, Array, or DynamicData frame onto the session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			k, err := parseFrameKind(kind)
			if err != nil {
				return err
			}
			req := proto.EIP712PushFrame{Kind: k, EncodedType: encodedType, FieldName: fieldName}
			id, body, err := cli.Call(proto.MessageIDEIP712PushFrame, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "struct", "frame kind: struct, array, dynamic")
	cmd.Flags().StringVar(&encodedType, "type", "", "encoded type string, e.g. Mail(Person from,Person to,string contents)")
	cmd.Flags().StringVar(&fieldName, "field", "", "field name under the parent frame (empty at the session root)")

	return cmd
}

func eip712PopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Pop the current frame",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.EIP712PopFrame{}
			id, body, err := cli.Call(proto.MessageIDEIP712PopFrame, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}

func eip712AtomicCmd() *cobra.Command {
	var typ, name, valueHex string

	cmd := &cobra.Command{
		Use:   "atomic",
		Short: "Append an atomic field to the current Struct frame",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			value, err := hex.DecodeString(valueHex)
			if err != nil {
				return fmt.Errorf("decode --value as hex: %w", err)
			}
			req := proto.EIP712AppendAtomicField{Type: typ, Name: name, Value: value}
			id, body, err := cli.Call(proto.MessageIDEIP712AppendAtomicField, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "Solidity type name, e.g. uint256, address, bytes32")
	cmd.Flags().StringVar(&name, "name", "", "field name")
	cmd.Flags().StringVar(&valueHex, "value", "", "field value, hex-encoded big-endian bytes")

	return cmd
}

func eip712DynamicCmd() *cobra.Command {
	var dataHex string

	cmd := &cobra.Command{
		Use:   "dynamic",
		Short: "Append a chunk of data to the current DynamicData frame",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			data, err := hex.DecodeString(dataHex)
			if err != nil {
				return fmt.Errorf("decode --data as hex: %w", err)
			}
			req := proto.EIP712AppendDynamicData{Data: data}
			id, body, err := cli.Call(proto.MessageIDEIP712AppendDynamicData, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}

	cmd.Flags().StringVar(&dataHex, "data", "", "chunk of dynamic data, hex-encoded")

	return cmd
}

func eip712SignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Finalize the session and request a signature over the digest",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := proto.EIP712Sign{}
			id, body, err := cli.Call(proto.MessageIDEIP712Sign, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}
}

func eip712VerifyCmd() *cobra.Command {
	var sigHex string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Finalize the session and verify a host-supplied signature",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				return fmt.Errorf("decode --signature as hex: %w", err)
			}
			req := proto.EIP712Verify{Signature: sig}
			id, body, err := cli.Call(proto.MessageIDEIP712Verify, req.Marshal())
			if err != nil {
				return err
			}
			return printResponse(id, body)
		},
	}

	cmd.Flags().StringVar(&sigHex, "signature", "", "signature to verify, hex-encoded")

	return cmd
}
