package eip712

import (
	"fmt"
	"sort"
	"strings"
)

// segment is one "Name(fields)" declaration parsed out of an encodedType
// string. Grounded on encoded_types.c's eip712_findStructTypeInEncodedType:
// the scan looks for the next '(' to end a name and the next ')' to end
// its field list, with no nested-parenthesis handling needed because
// field lists never themselves contain parens.
type segment struct {
	Name      string
	FieldsRaw string
}

// parseSegments scans the full encodedType string into its declared type
// segments, in the order the host wrote them. The first segment is always
// the primary (pushed) type, per spec.md's "the primary type ... must
// appear first" rule.
func parseSegments(encodedType string) ([]segment, error) {
	var segs []segment
	seen := make(map[string]bool)
	i := 0
	for i < len(encodedType) {
		open := indexByte(encodedType, i, '(')
		if open < 0 {
			return nil, fmt.Errorf("eip712: encodedType missing '(' after position %d", i)
		}
		name := encodedType[i:open]
		if !isValidIdentifier(name) {
			return nil, fmt.Errorf("eip712: invalid type name %q", name)
		}
		closeIdx := indexByte(encodedType, open+1, ')')
		if closeIdx < 0 {
			return nil, fmt.Errorf("eip712: encodedType missing ')' for type %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("eip712: type %q declared more than once", name)
		}
		seen[name] = true
		segs = append(segs, segment{Name: name, FieldsRaw: encodedType[open+1 : closeIdx]})
		i = closeIdx + 1
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("eip712: encodedType has no type declarations")
	}
	return segs, nil
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func findSegment(segs []segment, name string) (segment, bool) {
	for _, s := range segs {
		if s.Name == name {
			return s, true
		}
	}
	return segment{}, false
}

// validateEncodedType enforces the "every referenced struct type is
// present exactly once, and every declaration is reachable from the
// primary type" acyclicity guarantee. Grounded on extended_types.c's
// 256-bit-bitfield reachability walk; here expressed as a visited-set
// recursion over parsed segments rather than a literal bitfield, with the
// segment count itself checked against the same 256 bound up front.
func validateEncodedType(segs []segment, primary string) error {
	if len(segs) > 256 {
		return fmt.Errorf("eip712: encodedType declares too many types")
	}
	visited := make(map[string]bool, len(segs))
	var walk func(name string) error
	walk = func(name string) error {
		if visited[name] {
			return nil
		}
		seg, ok := findSegment(segs, name)
		if !ok {
			return fmt.Errorf("eip712: referenced type %q not declared", name)
		}
		visited[name] = true
		fields, err := splitFields(seg.FieldsRaw)
		if err != nil {
			return err
		}
		for _, f := range fields {
			t := f.Type
			if et, _, _, ok := isArrayType(t); ok {
				t = et
			}
			if _, ok := isAtomicType(t); ok {
				continue
			}
			if isDynamicType(t) {
				continue
			}
			if err := walk(t); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(primary); err != nil {
		return err
	}
	for _, s := range segs {
		if !visited[s.Name] {
			return fmt.Errorf("eip712: declared type %q is never referenced", s.Name)
		}
	}
	return nil
}

// chainedHash implements the firmware's eip712_extendExtendedHash
// primitive: each Extend call replaces the running value with
// keccak256(value ‖ chunk). Building up a "type name(type1 name1,...)"
// signature via repeated Extend calls lets the device reconstruct, from
// the actual sequence of fields a host appends, a hash it can compare
// against the same construction applied to the type's declared field list
// -- without ever materializing the whole signature string at once.
type chainedHash struct {
	value [32]byte
}

func (h *chainedHash) Extend(chunk []byte) {
	buf := make([]byte, 0, 32+len(chunk))
	buf = append(buf, h.value[:]...)
	buf = append(buf, chunk...)
	h.value = keccak256(buf)
}

// collectDeps walks typeName's fields and records every distinct struct
// type it transitively references, excluding typeName itself.
func collectDeps(segs []segment, typeName string, deps map[string]bool) {
	seg, ok := findSegment(segs, typeName)
	if !ok {
		return
	}
	fields, err := splitFields(seg.FieldsRaw)
	if err != nil {
		return
	}
	for _, f := range fields {
		t := f.Type
		if et, _, _, ok := isArrayType(t); ok {
			t = et
		}
		if _, ok := isAtomicType(t); ok {
			continue
		}
		if isDynamicType(t) {
			continue
		}
		if t == typeName || deps[t] {
			continue
		}
		deps[t] = true
		collectDeps(segs, t, deps)
	}
}

// canonicalEncodeType reconstructs the standard EIP-712 "encodeType" string
// for typeName: its own declaration followed by every transitively
// referenced struct type's declaration, sorted alphabetically. This is the
// string keccak256 is applied to for the real (signed-digest-contributing)
// typeHash, independent of which order the host originally wrote segments
// in within the wire encodedType.
func canonicalEncodeType(segs []segment, typeName string) (string, error) {
	seg, ok := findSegment(segs, typeName)
	if !ok {
		return "", fmt.Errorf("eip712: type %q not declared", typeName)
	}
	deps := make(map[string]bool)
	collectDeps(segs, typeName, deps)
	names := make([]string, 0, len(deps))
	for n := range deps {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(seg.Name)
	b.WriteString("(")
	b.WriteString(seg.FieldsRaw)
	b.WriteString(")")
	for _, n := range names {
		dep, _ := findSegment(segs, n)
		b.WriteString(dep.Name)
		b.WriteString("(")
		b.WriteString(dep.FieldsRaw)
		b.WriteString(")")
	}
	return b.String(), nil
}

// RootTypeName returns the primary type name an encodedType document would
// declare for a root (depth-0) push, without constructing a Session. The
// orchestrator uses this to check the first top-level struct's name against
// DomainSeparatorName before it ever reaches Session.Push.
func RootTypeName(encodedType string) (string, error) {
	segs, err := parseSegments(encodedType)
	if err != nil {
		return "", err
	}
	return segs[0].Name, nil
}

// expectedStructExtendedHash computes the chained hash for a struct's own
// declared field list, in the same order Extend calls would be issued as
// a host actually appends matching fields.
func expectedStructExtendedHash(typeName, fieldsRaw string) ([32]byte, error) {
	fields, err := splitFields(fieldsRaw)
	if err != nil {
		return [32]byte{}, err
	}
	h := chainedHash{}
	h.Extend([]byte(typeName))
	h.Extend([]byte("("))
	for i, f := range fields {
		if i > 0 {
			h.Extend([]byte(","))
		}
		h.Extend([]byte(f.Type + " " + f.Name))
	}
	h.Extend([]byte(")"))
	return h.value, nil
}
