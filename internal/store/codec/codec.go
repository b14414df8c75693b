// Package codec provides the deterministic key/value encoding used by every
// column family: RLP (github.com/ethereum/go-ethereum/rlp) for fixed-shape
// structs — the same encoder the teacher's core/ledger.go reaches for — and
// big-endian fixed-width integers for keys that must iterate in numeric
// order (tx order, block number). Go maps have no canonical iteration
// order and RLP cannot encode them directly, so change-set trees are
// flattened to key-sorted slices before encoding; see ChangeSetWire in
// internal/types/codec_changeset.go.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Marshal RLP-encodes v.
func Marshal(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal RLP-decodes data into v (a pointer).
func Unmarshal(data []byte, v interface{}) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// EncodeUint64 encodes n as an 8-byte big-endian key, preserving numeric
// ordering under byte-lexicographic key comparison.
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeUint64 decodes an 8-byte big-endian key.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeUint128 encodes a u128 value (represented as two uint64 halves,
// high then low) as a 16-byte big-endian key.
func EncodeUint128(hi, lo uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)
	return b
}

// DecodeUint128 decodes a 16-byte big-endian key into (hi, lo).
func DecodeUint128(b []byte) (hi, lo uint64) {
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:])
}
