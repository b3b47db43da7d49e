package hostmetrics

import "strings"

// eip712AbortClasses maps a distinguishing substring of an eip712.Session
// error to the canonical invariant name recorded against EIP712Aborts.
// Ordered by specificity since some substrings are prefixes of others.
var eip712AbortClasses = []struct {
	substr    string
	invariant string
}{
	{"stack depth limit", "stack_depth_exceeded"},
	{"only two top-level structs", "domain_message_count"},
	{"top-level frame must be a struct", "root_not_struct"},
	{"declares too many fields", "field_limit_exceeded"},
	{"declares too many types", "type_count_exceeded"},
	{"never referenced", "unreachable_type"},
	{"not declared", "undeclared_type"},
	{"declared more than once", "duplicate_type"},
	{"is not dynamic data", "dynamic_type_mismatch"},
	{"is not an array", "array_type_mismatch"},
	{"cannot be pushed as a struct", "struct_type_mismatch"},
	{"array elements are positional", "named_array_element"},
	{"element count", "array_count_mismatch"},
	{"elements, got", "array_count_mismatch"},
	{"element type", "array_element_type_mismatch"},
	{"not a recognized atomic type", "unknown_atomic_type"},
	{"value must be", "atomic_length_mismatch"},
	{"field declared type", "field_type_mismatch"},
	{"cannot push a frame under a dynamic-data frame", "push_under_dynamic_data"},
	{"cannot append an atomic value to a dynamic-data frame", "atomic_under_dynamic_data"},
	{"review cancelled", "review_cancelled"},
	{"pop with no open frame", "unbalanced_pop"},
	{"no open frame", "unbalanced_append"},
	{"finalize with unterminated frames", "finalize_unterminated"},
	{"finalize expects exactly 2", "finalize_count_mismatch"},
	{"extended", "extended_hash_mismatch"},
	{"invalid field name", "invalid_identifier"},
	{"invalid type name", "invalid_identifier"},
	{"must not name a field", "unexpected_field_name"},
	{"must name a field", "missing_field_name"},
}

// ClassifyEIP712Abort maps an eip712.Session error's text to a bounded-
// cardinality invariant name suitable as a metric label. Unrecognized
// errors fall back to "other" rather than using the raw error text, which
// would give Prometheus an unbounded label set.
func ClassifyEIP712Abort(errText string) string {
	for _, c := range eip712AbortClasses {
		if strings.Contains(errText, c.substr) {
			return c.invariant
		}
	}
	return "other"
}
