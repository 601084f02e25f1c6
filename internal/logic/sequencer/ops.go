package sequencer

import (
	"context"
	"errors"
	"fmt"

	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/verifier"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

type InitializeRequest struct {
	Admin     ledger.Signer
	Params    vault.Params
	Mint      types.Pubkey
	ProgramID types.Pubkey
}

type InitializeResult struct {
	*OpResult
	Addresses address.Addresses
}

// Initialize 创建金库。前置条件：推导出的状态地址上不存在账户。
// 结果不确定时重新读取：账户已存在且管理员与参数一致视为上次提交已生效。
func (s *Sequencer) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	admin := req.Admin.PublicKey()
	addrs, err := s.deriver.Derive(address.VaultIdentity{Owner: admin, ProgramID: req.ProgramID})
	if err != nil {
		return nil, err
	}

	zero := uint64(0)
	notStopped := false
	expect := verifier.Expect{
		Admin:         &admin,
		Params:        &req.Params,
		TotalAssets:   &zero,
		TotalShares:   &zero,
		EmergencyStop: &notStopped,
	}

	op := &operation{
		kind:    core.OpInitialize,
		vault:   addrs.State,
		program: req.ProgramID,
		payer:   req.Admin,
		prepare: func(ctx context.Context, attempt int) (*prepared, error) {
			_, err := s.ledger.GetAccount(ctx, addrs.State)
			switch {
			case errors.Is(err, ledger.ErrAccountNotFound):
			case err != nil:
				return nil, fmt.Errorf("check vault %s: %w", addrs.State, err)
			case attempt == 1:
				return nil, fmt.Errorf("%w: %s", core.ErrAlreadyInitialized, addrs.State)
			default:
				if _, verr := s.verifier.Verify(ctx, addrs.State, req.ProgramID, expect); verr != nil {
					return nil, fmt.Errorf("%w: %s exists with unexpected state: %v", core.ErrAlreadyInitialized, addrs.State, verr)
				}
				return &prepared{landed: true, expect: expect}, nil
			}
			ix, err := vault.InitializeInstruction(req.ProgramID, addrs.State, addrs.Token, admin, req.Mint, req.Params)
			if err != nil {
				return nil, err
			}
			return &prepared{instruction: ix, expect: expect}, nil
		},
	}

	res, err := s.execute(ctx, op)
	out := &InitializeResult{OpResult: res, Addresses: addrs}
	if err != nil {
		return out, err
	}
	if _, err := s.verifier.VerifyToken(ctx, addrs.Token, req.Mint, addrs.State); err != nil {
		logger.Errorf("[Sequencer] 金库 token 账户校验失败: token=%s err=%v", addrs.Token, err)
		return out, err
	}
	return out, nil
}

// TransferRequest 存款 / 取款请求
type TransferRequest struct {
	Vault     types.Pubkey
	ProgramID types.Pubkey
	User      ledger.Signer
	UserToken types.Pubkey
	Amount    uint64
}

// Deposit 前置条件：amount > 0、金库未停止、不超过容量。存款不做重新提交。
func (s *Sequencer) Deposit(ctx context.Context, req TransferRequest) (*OpResult, error) {
	if req.Amount == 0 {
		return nil, core.ErrInvalidAmount
	}
	token, _, err := s.deriver.TokenAddress(req.Vault, req.ProgramID)
	if err != nil {
		return nil, err
	}
	user := req.User.PublicKey()

	op := &operation{
		kind:    core.OpDeposit,
		vault:   req.Vault,
		program: req.ProgramID,
		payer:   req.User,
		amount:  req.Amount,
		prepare: func(ctx context.Context, _ int) (*prepared, error) {
			snap, err := s.verifier.Fetch(ctx, req.Vault, req.ProgramID)
			if err != nil {
				return nil, err
			}
			pre := snap.State
			if pre.EmergencyStop {
				return nil, fmt.Errorf("%w: %s", core.ErrEmergencyStopped, req.Vault)
			}
			if pre.TotalAssets+req.Amount < pre.TotalAssets || pre.TotalAssets+req.Amount > pre.MaxCapacity {
				return nil, fmt.Errorf("%w: total_assets=%d amount=%d max_capacity=%d",
					core.ErrCapacityExceeded, pre.TotalAssets, req.Amount, pre.MaxCapacity)
			}
			minted, err := vault.SharesForDeposit(req.Amount, pre.TotalAssets, pre.TotalShares)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrInvalidAmount, err)
			}
			ix, err := vault.DepositInstruction(req.ProgramID, req.Vault, token, req.UserToken, user, req.Amount)
			if err != nil {
				return nil, err
			}
			assets := pre.TotalAssets + req.Amount
			shares := pre.TotalShares + minted
			return &prepared{
				instruction: ix,
				expect:      verifier.Expect{TotalAssets: &assets, TotalShares: &shares},
				onConfirmed: func(ctx context.Context, _ *vault.State) {
					s.addShares(ctx, req.Vault, user, int64(minted))
				},
			}, nil
		},
	}
	return s.execute(ctx, op)
}

// Withdraw 前置条件：amount > 0、金库未停止、amount 不超过用户份额可赎回价值。取款不做重新提交。
func (s *Sequencer) Withdraw(ctx context.Context, req TransferRequest) (*OpResult, error) {
	if req.Amount == 0 {
		return nil, core.ErrInvalidAmount
	}
	token, _, err := s.deriver.TokenAddress(req.Vault, req.ProgramID)
	if err != nil {
		return nil, err
	}
	user := req.User.PublicKey()

	op := &operation{
		kind:    core.OpWithdraw,
		vault:   req.Vault,
		program: req.ProgramID,
		payer:   req.User,
		amount:  req.Amount,
		prepare: func(ctx context.Context, _ int) (*prepared, error) {
			snap, err := s.verifier.Fetch(ctx, req.Vault, req.ProgramID)
			if err != nil {
				return nil, err
			}
			pre := snap.State
			if pre.EmergencyStop {
				return nil, fmt.Errorf("%w: %s", core.ErrEmergencyStopped, req.Vault)
			}
			held, err := s.journal.Shares(ctx, req.Vault, user)
			if err != nil {
				return nil, fmt.Errorf("read position of %s: %w", user, err)
			}
			redeemable, err := vault.RedeemableValue(held, pre.TotalAssets, pre.TotalShares)
			if err != nil || req.Amount > redeemable {
				return nil, fmt.Errorf("%w: user=%s shares=%d redeemable=%d amount=%d",
					core.ErrInsufficientShares, user, held, redeemable, req.Amount)
			}
			burned, err := vault.SharesForWithdraw(req.Amount, pre.TotalAssets, pre.TotalShares)
			if err != nil || burned > pre.TotalShares {
				return nil, fmt.Errorf("%w: amount=%d", core.ErrInsufficientShares, req.Amount)
			}
			ix, err := vault.WithdrawInstruction(req.ProgramID, req.Vault, token, req.UserToken, user, req.Amount)
			if err != nil {
				return nil, err
			}
			assets := pre.TotalAssets - req.Amount
			shares := pre.TotalShares - burned
			return &prepared{
				instruction: ix,
				expect:      verifier.Expect{TotalAssets: &assets, TotalShares: &shares},
				onConfirmed: func(ctx context.Context, _ *vault.State) {
					s.addShares(ctx, req.Vault, user, -int64(burned))
				},
			}, nil
		},
	}
	return s.execute(ctx, op)
}

// Rebalance 依赖外部衍生品市场，失败只记录 WARN 并体现在 OpResult.Err 中；
// 仅状态校验失败（StateMismatch）作为错误返回。
func (s *Sequencer) Rebalance(ctx context.Context, vaultAddr, programID types.Pubkey, authority ledger.Signer) (*OpResult, error) {
	op := &operation{
		kind:    core.OpRebalance,
		vault:   vaultAddr,
		program: programID,
		payer:   authority,
		prepare: func(ctx context.Context, _ int) (*prepared, error) {
			snap, err := s.verifier.Fetch(ctx, vaultAddr, programID)
			if err != nil {
				return nil, err
			}
			pre := snap.State
			if pre.EmergencyStop {
				return nil, fmt.Errorf("%w: %s", core.ErrEmergencyStopped, vaultAddr)
			}
			ix, err := vault.RebalanceInstruction(programID, vaultAddr, s.drift, authority.PublicKey())
			if err != nil {
				return nil, err
			}
			// 再平衡只调整对冲仓位，不改变资产与份额
			assets, shares, stopped := pre.TotalAssets, pre.TotalShares, false
			return &prepared{
				instruction: ix,
				expect:      verifier.Expect{TotalAssets: &assets, TotalShares: &shares, EmergencyStop: &stopped},
			}, nil
		},
	}
	res, err := s.execute(ctx, op)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, core.ErrStateMismatch) {
		return res, err
	}
	logger.Warnf("[Sequencer] 再平衡失败（非致命）: vault=%s err=%v", vaultAddr, err)
	if res == nil {
		res = &OpResult{Kind: core.OpRebalance, Vault: vaultAddr, Status: core.OpStatusFailed}
	}
	res.Err = err
	return res, nil
}

// EmergencyStop 仅管理员可调用。已停止的金库不再提交，重新读取确认 emergency_stop 为 true。
func (s *Sequencer) EmergencyStop(ctx context.Context, vaultAddr, programID types.Pubkey, admin ledger.Signer) (*OpResult, error) {
	adminKey := admin.PublicKey()
	stopped := true
	op := &operation{
		kind:    core.OpEmergencyStop,
		vault:   vaultAddr,
		program: programID,
		payer:   admin,
		prepare: func(ctx context.Context, _ int) (*prepared, error) {
			snap, err := s.verifier.Fetch(ctx, vaultAddr, programID)
			if err != nil {
				return nil, err
			}
			pre := snap.State
			if pre.Admin != adminKey {
				return nil, fmt.Errorf("%w: signer=%s admin=%s", core.ErrNotAdmin, adminKey, pre.Admin)
			}
			expect := verifier.Expect{EmergencyStop: &stopped}
			if pre.EmergencyStop {
				return &prepared{landed: true, expect: expect}, nil
			}
			ix, err := vault.EmergencyStopInstruction(programID, vaultAddr, adminKey)
			if err != nil {
				return nil, err
			}
			return &prepared{instruction: ix, expect: expect}, nil
		},
	}
	return s.execute(ctx, op)
}

// UpdateParams 仅管理员可调用；未给出的字段保持不变。
func (s *Sequencer) UpdateParams(ctx context.Context, vaultAddr, programID types.Pubkey, admin ledger.Signer, update vault.ParamsUpdate) (*OpResult, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	adminKey := admin.PublicKey()
	op := &operation{
		kind:    core.OpUpdateParams,
		vault:   vaultAddr,
		program: programID,
		payer:   admin,
		prepare: func(ctx context.Context, _ int) (*prepared, error) {
			snap, err := s.verifier.Fetch(ctx, vaultAddr, programID)
			if err != nil {
				return nil, err
			}
			pre := snap.State
			if pre.Admin != adminKey {
				return nil, fmt.Errorf("%w: signer=%s admin=%s", core.ErrNotAdmin, adminKey, pre.Admin)
			}
			target := update.Apply(pre.Params())
			expect := verifier.Expect{Admin: &adminKey, Params: &target}
			if target == pre.Params() {
				return &prepared{landed: true, expect: expect}, nil
			}
			ix, err := vault.UpdateParamsInstruction(programID, vaultAddr, adminKey, update)
			if err != nil {
				return nil, err
			}
			return &prepared{instruction: ix, expect: expect}, nil
		},
	}
	return s.execute(ctx, op)
}

func (s *Sequencer) addShares(ctx context.Context, vaultAddr, user types.Pubkey, delta int64) {
	if _, err := s.journal.AddShares(context.WithoutCancel(ctx), vaultAddr, user, delta); err != nil {
		logger.Errorf("[Sequencer] 更新份额簿失败: vault=%s user=%s delta=%d err=%v", vaultAddr, user, delta, err)
	}
}
