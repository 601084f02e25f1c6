// Package address 金库账户地址推导。地址从不持久化，每次按需重新计算。
package address

import (
	"fmt"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
)

// VaultIdentity 金库身份：管理员 + 程序
type VaultIdentity struct {
	Owner     types.Pubkey
	ProgramID types.Pubkey
}

func (id VaultIdentity) String() string {
	return fmt.Sprintf("%s@%s", id.Owner, id.ProgramID)
}

// Addresses 推导结果
type Addresses struct {
	State     types.Pubkey
	StateBump uint8
	Token     types.Pubkey
	TokenBump uint8
}

type finderFunc func(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error)

func (f finderFunc) FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return f(seeds, programID)
}

type Deriver struct {
	finder ledger.AddressFinder
}

// NewDeriver finder 为 nil 时使用标准 PDA 推导
func NewDeriver(finder ledger.AddressFinder) *Deriver {
	if finder == nil {
		finder = finderFunc(ledger.FindProgramAddress)
	}
	return &Deriver{finder: finder}
}

// Derive 状态账户 seeds = ["vault", owner]；token 账户 seeds = ["vault_token_account", 状态账户地址]
func (d *Deriver) Derive(id VaultIdentity) (Addresses, error) {
	state, stateBump, err := d.StateAddress(id)
	if err != nil {
		return Addresses{}, err
	}
	token, tokenBump, err := d.TokenAddress(state, id.ProgramID)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{State: state, StateBump: stateBump, Token: token, TokenBump: tokenBump}, nil
}

func (d *Deriver) StateAddress(id VaultIdentity) (types.Pubkey, uint8, error) {
	return d.find(consts.VaultSeed, id.Owner, id.ProgramID)
}

func (d *Deriver) TokenAddress(state, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return d.find(consts.VaultTokenAccountSeed, state, programID)
}

func (d *Deriver) find(seed string, key, programID types.Pubkey) (types.Pubkey, uint8, error) {
	addr, bump, err := d.finder.FindProgramAddress([][]byte{[]byte(seed), key.Bytes()}, programID)
	if err != nil {
		return types.Pubkey{}, 0, fmt.Errorf("%w: seed=%s key=%s program=%s: %v", core.ErrDerivationExhausted, seed, key, programID, err)
	}
	return addr, bump, nil
}
