package eip712

import "golang.org/x/crypto/sha3"

// keccak256 is the one-shot helper used for non-streaming hashes (chained
// extended-type-hash reconstruction, atomic field padding checks). The
// session's root and per-frame value hashes use the streaming
// sha3.NewLegacyKeccak256 state directly, since those accumulate across
// many append calls rather than a single buffer.
func keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	h.Sum(out[:0])
	return out
}
