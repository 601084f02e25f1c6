package ledger

import (
	"github.com/blocto/solana-go-sdk/common"

	"vault-orchestrator-sol/internal/types"
)

// FindProgramAddress 标准 PDA 推导：从 bump=255 向下寻找不在 ed25519 曲线上的地址
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	pk, bump, err := common.FindProgramAddress(seeds, programID.ToCommon())
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	return types.PubkeyFromCommon(pk), bump, nil
}
