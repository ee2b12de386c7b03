// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// ParseHexUint32 parses a hex string (with or without 0x prefix) into a
// uint32. Empty or malformed input reports ok=false.
func ParseHexUint32(s string) (uint32, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ParseHexUint64 parses a hex string (with or without 0x prefix) into a
// uint64. Empty or malformed input reports ok=false.
func ParseHexUint64(s string) (uint64, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseHexUint128 parses a hex string (with or without 0x prefix) into a
// uint256.Int constrained to 128 bits. Empty, malformed, or out-of-range
// input reports ok=false. Leading zeros are accepted; wire values are not
// canonicalized.
func ParseHexUint128(s string) (*uint256.Int, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, false
	}
	raw, ok := new(big.Int).SetString(s, 16)
	if !ok || raw.Sign() < 0 {
		return nil, false
	}
	v, overflow := uint256.FromBig(raw)
	if overflow || v.BitLen() > 128 {
		return nil, false
	}
	return v, true
}

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a hex string without a prefix.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}
