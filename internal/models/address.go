package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is never a valid owner, validator or caller.
var ZeroAddress = common.Address{}

// ParseAddress parses a hex account address and rejects the zero address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("%w: invalid address %q", ErrInvalidInput, s)
	}
	addr := common.HexToAddress(s)
	if addr == ZeroAddress {
		return ZeroAddress, fmt.Errorf("%w: zero address", ErrInvalidInput)
	}
	return addr, nil
}

// ParseOptionalAddress is ParseAddress that maps "" and the zero address to
// ZeroAddress instead of failing. Used for clearing approvals.
func ParseOptionalAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroAddress, nil
	}
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("%w: invalid address %q", ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}
