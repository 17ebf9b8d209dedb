package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex account or contract address and returns it
// in EIP-55 checksum form.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// AddressKey returns the map key used for address lookups. Valid addresses are
// lower-cased so checksummed and plain forms join; anything else is only
// trimmed and lower-cased.
func AddressKey(s string) string {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return strings.ToLower(common.HexToAddress(s).Hex())
	}
	return strings.ToLower(s)
}
