package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a ledger identity (campaign contract, creator, admin or factory)
// in EIP-55 checksum form.
type Address string

// ParseAddress validates a 0x-prefixed 20-byte hex address and returns its
// canonical form so that comparisons are case-insensitive.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return "", fmt.Errorf("address %q must be 0x-prefixed", value)
	}
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("malformed address %q", value)
	}
	return Address(common.HexToAddress(trimmed).Hex()), nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(value string) Address {
	addr, err := ParseAddress(value)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	return string(a)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

// Bytes returns the 20-byte form of the address.
func (a Address) Bytes() common.Address {
	return common.HexToAddress(string(a))
}

// Short renders the address the way the dashboard abbreviates it.
func (a Address) Short() string {
	s := string(a)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
