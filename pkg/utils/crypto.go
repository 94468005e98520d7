package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// EventTopic returns the keccak256 hash of a canonical event signature,
// e.g. "Deposited(address,uint256,uint256)".
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// FormatBlockNumber formats a block number for display
func FormatBlockNumber(blockNumber uint64) string {
	return fmt.Sprintf("0x%x", blockNumber)
}

// CreateEventID derives a stable ID from a log's position on chain.
func CreateEventID(blockHash, txHash string, logIndex uint) string {
	data := fmt.Sprintf("%s-%s-%d", blockHash, txHash, logIndex)
	return crypto.Keccak256Hash([]byte(data)).Hex()
}
