package memledger

import (
	"encoding/binary"
	"fmt"

	"vault-orchestrator-sol/internal/types"
)

// SPL Token 账户布局
const (
	tokenAccountSize      = 165
	tokenMintOffset       = 0
	tokenOwnerOffset      = 32
	tokenAmountOffset     = 64
	tokenStateOffset      = 108
	tokenStateInitialized = 1
)

type tokenAccount struct {
	Mint   types.Pubkey
	Owner  types.Pubkey
	Amount uint64
}

func encodeTokenAccount(t tokenAccount) []byte {
	data := make([]byte, tokenAccountSize)
	copy(data[tokenMintOffset:], t.Mint[:])
	copy(data[tokenOwnerOffset:], t.Owner[:])
	binary.LittleEndian.PutUint64(data[tokenAmountOffset:], t.Amount)
	data[tokenStateOffset] = tokenStateInitialized
	return data
}

func decodeTokenAccount(data []byte) (tokenAccount, error) {
	if len(data) != tokenAccountSize {
		return tokenAccount{}, fmt.Errorf("invalid token account size: %d", len(data))
	}
	var t tokenAccount
	copy(t.Mint[:], data[tokenMintOffset:tokenMintOffset+32])
	copy(t.Owner[:], data[tokenOwnerOffset:tokenOwnerOffset+32])
	t.Amount = binary.LittleEndian.Uint64(data[tokenAmountOffset:])
	return t, nil
}
