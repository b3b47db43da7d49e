package eip712

import (
	"fmt"
	"math/big"
	"strings"
)

// ReviewPrompt is one user-visible (path, value) pair the session emits for
// every atomic/dynamic field append and every empty struct/array push-pop
// pair. Grounded on original_source/lib/firmware/eip712/display.c's
// eip712_formatValueForDisplay / eip712_formatStructPath.
type ReviewPrompt struct {
	Path  string
	Value string
}

// ReviewFunc presents a prompt to the user and returns false if the user
// cancels, which aborts the session per spec.md §4.6.
type ReviewFunc func(ReviewPrompt) bool

// formatStructPath builds "RootType / field: Type / field2: Type2 / ..."
// from the current frame stack plus the field being displayed.
func formatStructPath(stack []*Frame, fieldName, fieldType string) string {
	var b strings.Builder
	for i, f := range stack {
		if i > 0 {
			b.WriteString(" / ")
		}
		if i == 0 {
			b.WriteString(f.TypeName)
		} else {
			fmt.Fprintf(&b, "%s: %s", f.FieldName, f.TypeName)
		}
	}
	if fieldName != "" {
		if len(stack) > 0 {
			b.WriteString(" / ")
		}
		fmt.Fprintf(&b, "%s: %s", fieldName, fieldType)
	}
	return b.String()
}

// formatAtomicValue renders a raw (unpadded) atomic value for review, per
// eip712_formatValueForDisplay.
func formatAtomicValue(typ string, info AtomicInfo, raw []byte) string {
	switch typ {
	case "bool":
		if len(raw) == 1 && raw[0] == 1 {
			return "true"
		}
		return "false"
	case "address":
		return "0x" + checksumAddress(raw)
	}

	if info.Signed {
		n := new(big.Int).SetBytes(raw)
		if len(raw) > 0 && raw[0]&0x80 != 0 {
			// two's complement: value - 2^(8*len)
			mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw)))
			n.Sub(n, mod)
		}
		return fmt.Sprintf("%s(%s)", typ, n.String())
	}
	if _, isUint := atomicIsUint(typ); isUint {
		n := new(big.Int).SetBytes(raw)
		return fmt.Sprintf("%s(%s)", typ, n.String())
	}
	// bytesN
	return fmt.Sprintf("%s(0x%x)", typ, raw)
}

func atomicIsUint(typ string) (string, bool) {
	if len(typ) > 4 && typ[:4] == "uint" {
		return typ, true
	}
	return "", false
}

// formatStringValue double-quotes a string field's bytes, escaping the
// two characters display.c escapes: '"' and '\\'.
func formatStringValue(data []byte) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range data {
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// formatBytesValue renders a "bytes" field's captured prefix as 0x-hex,
// capped display data included, "..." if the dynamic frame was truncated.
func formatBytesValue(data []byte, truncated bool) string {
	if len(data) == 0 {
		return "(empty)"
	}
	s := fmt.Sprintf("0x%x", data)
	if truncated {
		s += "..."
	}
	return s
}

// checksumAddress renders 20 raw address bytes as an EIP-55 checksummed
// hex string (without the leading "0x").
func checksumAddress(addr []byte) string {
	hexAddr := fmt.Sprintf("%x", addr)
	hashed := keccak256([]byte(hexAddr))

	var b strings.Builder
	for i := 0; i < len(hexAddr); i++ {
		c := hexAddr[i]
		if c >= 'a' && c <= 'f' {
			// nibble i's corresponding bit in the hash of the lowercase
			// hex string selects upper- vs lower-case, per EIP-55.
			byteIdx := i / 2
			var nibble byte
			if i%2 == 0 {
				nibble = hashed[byteIdx] >> 4
			} else {
				nibble = hashed[byteIdx] & 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
