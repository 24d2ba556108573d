package symbols

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

const solanaPubkeyLen = 32

// ContractAddress reports whether raw is an on-chain token address rather
// than a ticker. EVM addresses come back lowercased; Solana mints are
// case-sensitive and returned as given.
func ContractAddress(raw string) (string, bool) {
	s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "$"))
	if common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x") {
		return strings.ToLower(s), true
	}
	if len(s) < 32 || len(s) > 44 {
		return "", false
	}
	decoded, err := base58.Decode(s)
	if err != nil || len(decoded) != solanaPubkeyLen {
		return "", false
	}
	return s, true
}

// IsEVMAddress reports whether address is a 0x-prefixed hex address.
func IsEVMAddress(address string) bool {
	return strings.HasPrefix(strings.ToLower(address), "0x") && common.IsHexAddress(address)
}
