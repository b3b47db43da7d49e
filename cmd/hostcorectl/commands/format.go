package commands

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/keepkey/hostcore/internal/proto"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// printResponse decodes a known response message id and renders it in
// outputFormat. An unrecognized id is hex-dumped rather than dropped, so an
// unexpected response is still visible to the operator instead of silently
// disappearing.
func printResponse(id proto.MessageID, body []byte) error {
	switch id {
	case proto.MessageIDSuccess:
		var m proto.Success
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("decode Success: %w", err)
		}
		return render("Success", map[string]any{"message": m.Message})

	case proto.MessageIDFailure:
		var m proto.Failure
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("decode Failure: %w", err)
		}
		return render("Failure", map[string]any{"code": m.Code.String(), "text": m.Text})

	case proto.MessageIDButtonRequest:
		var m proto.ButtonRequest
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("decode ButtonRequest: %w", err)
		}
		return render("ButtonRequest", map[string]any{"code": m.Code})

	case proto.MessageIDEIP712ContextInfo:
		var m proto.EIP712ContextInfo
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("decode EIP712ContextInfo: %w", err)
		}
		return render("EIP712ContextInfo", map[string]any{
			"stack_depth_limit":  m.StackDepthLimit,
			"type_length_limit":  m.TypeLengthLimit,
			"name_length_limit":  m.NameLengthLimit,
			"dynamic_data_limit": m.DynamicDataLimit,
			"field_limit":        m.FieldLimit,
		})

	case proto.MessageIDEIP712Signature:
		var m proto.EIP712Signature
		if err := m.Unmarshal(body); err != nil {
			return fmt.Errorf("decode EIP712Signature: %w", err)
		}
		return render("EIP712Signature", map[string]any{
			"digest":    hex.EncodeToString(m.Digest),
			"signature": hex.EncodeToString(m.Signature),
		})

	default:
		return render(id.String(), map[string]any{"body_hex": hex.EncodeToString(body)})
	}
}

func render(label string, fields map[string]any) error {
	if outputFormat == formatJSON {
		data, err := json.MarshalIndent(map[string]any{"type": label, "fields": fields}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal response to JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(label)
	for k, v := range fields {
		fmt.Printf("  %s: %v\n", k, v)
	}
	return nil
}
