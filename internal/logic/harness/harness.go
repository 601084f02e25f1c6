// Package harness 端到端场景：初始化 → 并发存款 → 取款 → 再平衡（尽力而为）→ 校验总量。
// 既用于 smoke 命令，也作为 Sequencer / Verifier 行为的可执行说明。
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/logic/verifier"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

// Participant 存取款用户及其 token 账户
type Participant struct {
	Name   string
	Signer ledger.Signer
	Token  types.Pubkey
}

type Transfer struct {
	User   *Participant
	Amount uint64
}

type Scenario struct {
	ProgramID   types.Pubkey
	Mint        types.Pubkey
	Params      vault.Params
	Deposits    []Transfer // 并发提交，由 Sequencer 按金库串行
	Withdrawals []Transfer // 存款全部确认后顺序执行
	Rebalance   bool
	Update      *vault.ParamsUpdate
	Halt        bool
}

type Report struct {
	Addresses    address.Addresses
	Deposited    uint64
	Withdrawn    uint64
	Ops          []*sequencer.OpResult
	RebalanceErr error
	Final        *vault.State
	Elapsed      time.Duration
}

type Runner struct {
	seq *sequencer.Sequencer
}

func NewRunner(seq *sequencer.Sequencer) *Runner {
	return &Runner{seq: seq}
}

// Run 执行场景。任一存取款失败或最终状态与确认过的存取款之和不一致都返回错误。
func (r *Runner) Run(ctx context.Context, admin ledger.Signer, sc Scenario) (*Report, error) {
	start := time.Now()
	report := &Report{}

	initRes, err := r.seq.Initialize(ctx, sequencer.InitializeRequest{
		Admin: admin, Params: sc.Params, Mint: sc.Mint, ProgramID: sc.ProgramID,
	})
	if err != nil {
		return report, fmt.Errorf("initialize: %w", err)
	}
	report.Addresses = initRes.Addresses
	report.Ops = append(report.Ops, initRes.OpResult)
	vaultAddr := initRes.Addresses.State

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range sc.Deposits {
		d := d
		g.Go(func() error {
			res, err := r.seq.Deposit(gctx, sequencer.TransferRequest{
				Vault: vaultAddr, ProgramID: sc.ProgramID, User: d.User.Signer, UserToken: d.User.Token, Amount: d.Amount,
			})
			if err != nil {
				return fmt.Errorf("deposit %s %d: %w", d.User.Name, d.Amount, err)
			}
			mu.Lock()
			report.Deposited += d.Amount
			report.Ops = append(report.Ops, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, w := range sc.Withdrawals {
		res, err := r.seq.Withdraw(ctx, sequencer.TransferRequest{
			Vault: vaultAddr, ProgramID: sc.ProgramID, User: w.User.Signer, UserToken: w.User.Token, Amount: w.Amount,
		})
		if err != nil {
			return report, fmt.Errorf("withdraw %s %d: %w", w.User.Name, w.Amount, err)
		}
		report.Withdrawn += w.Amount
		report.Ops = append(report.Ops, res)
	}

	if sc.Rebalance {
		res, err := r.seq.Rebalance(ctx, vaultAddr, sc.ProgramID, admin)
		if err != nil {
			return report, fmt.Errorf("rebalance: %w", err)
		}
		report.Ops = append(report.Ops, res)
		report.RebalanceErr = res.Err
	}

	params := sc.Params
	if sc.Update != nil {
		res, err := r.seq.UpdateParams(ctx, vaultAddr, sc.ProgramID, admin, *sc.Update)
		if err != nil {
			return report, fmt.Errorf("update params: %w", err)
		}
		report.Ops = append(report.Ops, res)
		params = sc.Update.Apply(params)
	}
	if sc.Halt {
		res, err := r.seq.EmergencyStop(ctx, vaultAddr, sc.ProgramID, admin)
		if err != nil {
			return report, fmt.Errorf("emergency stop: %w", err)
		}
		report.Ops = append(report.Ops, res)
	}

	// 无收益时份额价格恒为 1:1，份额总量与资产总量相同
	net := report.Deposited - report.Withdrawn
	adminKey := admin.PublicKey()
	final, err := r.seq.Verifier().Verify(ctx, vaultAddr, sc.ProgramID, verifier.Expect{
		Admin:         &adminKey,
		Params:        &params,
		TotalAssets:   &net,
		TotalShares:   &net,
		EmergencyStop: &sc.Halt,
	})
	report.Final = final
	report.Elapsed = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("final verification: %w", err)
	}
	logger.Infof("[Harness] 场景完成: vault=%s deposited=%d withdrawn=%d total_assets=%d total_shares=%d ops=%d elapsed=%v",
		vaultAddr, report.Deposited, report.Withdrawn, final.TotalAssets, final.TotalShares, len(report.Ops), report.Elapsed)
	if report.RebalanceErr != nil {
		logger.Warnf("[Harness] 再平衡未生效（不影响结果）: %v", report.RebalanceErr)
	}
	return report, nil
}

// DefaultScenario 两个用户依次存入 100 与 50
func DefaultScenario(programID, mint types.Pubkey, params vault.Params, u1, u2 *Participant) (Scenario, error) {
	if u1 == nil || u2 == nil {
		return Scenario{}, errors.New("two participants are required")
	}
	return Scenario{
		ProgramID: programID,
		Mint:      mint,
		Params:    params,
		Deposits:  []Transfer{{User: u1, Amount: 100}, {User: u2, Amount: 50}},
		Rebalance: true,
	}, nil
}
