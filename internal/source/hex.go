package source

import (
	"github.com/holiman/uint256"

	"github.com/subfrost/espo/pkg/helpers"
)

func parseHexUint32(s string) (uint32, bool) {
	return helpers.ParseHexUint32(s)
}

func parseHexUint64(s string) (uint64, bool) {
	return helpers.ParseHexUint64(s)
}

// ParseHexAmount parses a hex transfer amount into a 128-bit value.
func ParseHexAmount(s string) (*uint256.Int, bool) {
	return helpers.ParseHexUint128(s)
}

func parseHexBytes(s string) ([]byte, error) {
	return helpers.HexToBytes(s)
}
