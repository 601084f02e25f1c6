// Package verifier 读取金库状态并与预期比对，只读，不做任何提交。
package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/program/token"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

// Expect 对状态的预期；nil 字段不检查
type Expect struct {
	Admin         *types.Pubkey
	Params        *vault.Params
	TotalAssets   *uint64
	TotalShares   *uint64
	EmergencyStop *bool
	// Custom 额外的断言，返回不一致项
	Custom func(s *vault.State) []core.Discrepancy
}

func (e Expect) check(s *vault.State) []core.Discrepancy {
	var out []core.Discrepancy
	if e.Admin != nil && *e.Admin != s.Admin {
		out = append(out, core.Discrepancy{Field: "admin", Expected: *e.Admin, Observed: s.Admin})
	}
	if e.Params != nil {
		out = append(out, e.Params.Diff(s.Params())...)
	}
	if e.TotalAssets != nil && *e.TotalAssets != s.TotalAssets {
		out = append(out, core.Discrepancy{Field: "total_assets", Expected: *e.TotalAssets, Observed: s.TotalAssets})
	}
	if e.TotalShares != nil && *e.TotalShares != s.TotalShares {
		out = append(out, core.Discrepancy{Field: "total_shares", Expected: *e.TotalShares, Observed: s.TotalShares})
	}
	if e.EmergencyStop != nil && *e.EmergencyStop != s.EmergencyStop {
		out = append(out, core.Discrepancy{Field: "emergency_stop", Expected: *e.EmergencyStop, Observed: s.EmergencyStop})
	}
	if e.Custom != nil {
		out = append(out, e.Custom(s)...)
	}
	return out
}

// Snapshot 一次读取到的金库账户
type Snapshot struct {
	Account *ledger.Account
	State   *vault.State
}

// TokenSnapshot 金库 token 托管账户
type TokenSnapshot struct {
	Address   types.Pubkey
	Mint      types.Pubkey
	Authority types.Pubkey
	Amount    uint64
}

type Verifier struct {
	reader ledger.AccountReader
}

func New(reader ledger.AccountReader) *Verifier {
	return &Verifier{reader: reader}
}

// Fetch 读取并解码金库状态，校验账户归属 programID
func (v *Verifier) Fetch(ctx context.Context, address, programID types.Pubkey) (*Snapshot, error) {
	acc, err := v.reader.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrVaultNotFound, address)
		}
		return nil, fmt.Errorf("read vault %s: %w", address, err)
	}
	if acc.Owner != programID {
		return nil, &core.StateMismatchError{
			Address:       address,
			Discrepancies: []core.Discrepancy{{Field: "owner", Expected: programID, Observed: acc.Owner}},
		}
	}
	s, err := vault.DecodeState(acc.Data)
	if err != nil {
		return nil, &core.StateMismatchError{
			Address:       address,
			Discrepancies: []core.Discrepancy{{Field: "data", Expected: "VaultState", Observed: err.Error()}},
		}
	}
	return &Snapshot{Account: acc, State: s}, nil
}

// Verify 读取状态并断言符合 expect；不一致时返回 *core.StateMismatchError
func (v *Verifier) Verify(ctx context.Context, address, programID types.Pubkey, expect Expect) (*vault.State, error) {
	snap, err := v.Fetch(ctx, address, programID)
	if err != nil {
		return nil, err
	}
	if diff := expect.check(snap.State); len(diff) > 0 {
		return snap.State, &core.StateMismatchError{Address: address, Discrepancies: diff}
	}
	return snap.State, nil
}

// FetchToken 读取金库 token 托管账户
func (v *Verifier) FetchToken(ctx context.Context, address types.Pubkey) (*TokenSnapshot, error) {
	acc, err := v.reader.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: token account %s", core.ErrVaultNotFound, address)
		}
		return nil, fmt.Errorf("read token account %s: %w", address, err)
	}
	if acc.Owner != consts.TokenProgram {
		return nil, &core.StateMismatchError{
			Address:       address,
			Discrepancies: []core.Discrepancy{{Field: "owner", Expected: consts.TokenProgram, Observed: acc.Owner}},
		}
	}
	ta, err := token.TokenAccountFromData(acc.Data)
	if err != nil {
		return nil, &core.StateMismatchError{
			Address:       address,
			Discrepancies: []core.Discrepancy{{Field: "data", Expected: "TokenAccount", Observed: err.Error()}},
		}
	}
	return &TokenSnapshot{
		Address:   address,
		Mint:      types.PubkeyFromCommon(ta.Mint),
		Authority: types.PubkeyFromCommon(ta.Owner),
		Amount:    ta.Amount,
	}, nil
}

// VerifyToken 断言 token 账户的 mint 与权限账户
func (v *Verifier) VerifyToken(ctx context.Context, address, mint, authority types.Pubkey) (*TokenSnapshot, error) {
	snap, err := v.FetchToken(ctx, address)
	if err != nil {
		return nil, err
	}
	var diff []core.Discrepancy
	if snap.Mint != mint {
		diff = append(diff, core.Discrepancy{Field: "mint", Expected: mint, Observed: snap.Mint})
	}
	if snap.Authority != authority {
		diff = append(diff, core.Discrepancy{Field: "authority", Expected: authority, Observed: snap.Authority})
	}
	if len(diff) > 0 {
		return snap, &core.StateMismatchError{Address: address, Discrepancies: diff}
	}
	return snap, nil
}
