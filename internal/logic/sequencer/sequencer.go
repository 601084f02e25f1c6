// Package sequencer 构建、签名、提交并确认金库操作。
// 同一金库上的操作严格串行；每次提交前都会重新检查前置条件。
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/journal"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/retry"
	"vault-orchestrator-sol/internal/logic/verifier"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

// OpResult 操作结果
type OpResult struct {
	ID        string
	Kind      core.OpKind
	Vault     types.Pubkey
	Signature string
	Status    core.OpStatus
	Attempts  int
	State     *vault.State // 确认并校验后的状态
	Err       error        // 非致命失败（仅再平衡）
}

type Option func(*Sequencer)

// WithDriftAccounts 再平衡使用的衍生品账户；未配置时使用占位账户
func WithDriftAccounts(accounts vault.DriftAccounts) Option {
	return func(s *Sequencer) { s.drift = accounts }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

type Sequencer struct {
	ledger   ledger.Ledger
	deriver  *address.Deriver
	verifier *verifier.Verifier
	journal  journal.Store
	events   core.EventSink
	policy   retry.Policy
	locks    *vaultLocks
	drift    vault.DriftAccounts
	now      func() time.Time
}

func New(l ledger.Ledger, store journal.Store, events core.EventSink, policy retry.Policy, opts ...Option) (*Sequencer, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if events == nil {
		events = core.NopSink{}
	}
	s := &Sequencer{
		ledger:   l,
		deriver:  address.NewDeriver(l),
		verifier: verifier.New(l),
		journal:  store,
		events:   events,
		policy:   policy,
		locks:    newVaultLocks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.drift.User.IsZero() || s.drift.UserStats.IsZero() || s.drift.State.IsZero() {
		s.drift = vault.DriftAccounts{
			User:      ledger.GenerateSigner().PublicKey(),
			UserStats: ledger.GenerateSigner().PublicKey(),
			State:     ledger.GenerateSigner().PublicKey(),
		}
		logger.Infof("[Sequencer] 未配置衍生品账户，再平衡使用占位账户: user=%s stats=%s state=%s",
			s.drift.User, s.drift.UserStats, s.drift.State)
	}
	return s, nil
}

func (s *Sequencer) Deriver() *address.Deriver {
	return s.deriver
}

func (s *Sequencer) Verifier() *verifier.Verifier {
	return s.verifier
}

func (s *Sequencer) Journal() journal.Store {
	return s.journal
}

// operation 一次待执行的操作
type operation struct {
	kind    core.OpKind
	vault   types.Pubkey
	program types.Pubkey
	payer   ledger.Signer
	amount  uint64

	// prepare 在每次（重新）提交前执行：检查前置条件并生成指令与预期。
	// landed=true 表示目标状态已达成，无需提交。
	prepare func(ctx context.Context, attempt int) (p *prepared, err error)
}

type prepared struct {
	landed      bool
	instruction ledger.Instruction
	expect      verifier.Expect
	// onConfirmed 在校验通过后执行（更新份额簿等）
	onConfirmed func(ctx context.Context, st *vault.State)
}

// execute 在金库锁内执行：前置检查 → 提交 → 等待确认 → 校验
func (s *Sequencer) execute(ctx context.Context, op *operation) (*OpResult, error) {
	unlock, err := s.locks.acquire(ctx, op.vault)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &OpResult{ID: uuid.NewString(), Kind: op.kind, Vault: op.vault}
	rec := &journal.OpRecord{
		ID:     res.ID,
		Kind:   op.kind,
		Vault:  op.vault,
		Signer: op.payer.PublicKey(),
		Amount: op.amount,
	}

	backoff := retry.NewBackoff(s.policy.InitialBackoff, s.policy.MaxBackoff)
	var p *prepared
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if err := backoff.Wait(ctx); err != nil {
				return s.fail(ctx, res, rec, fmt.Errorf("%s canceled before resubmit: %w", op.kind, err))
			}
		}

		p, err = op.prepare(ctx, attempt)
		if err != nil {
			return s.fail(ctx, res, rec, err)
		}
		if p.landed {
			if attempt == 1 {
				res.Status = core.OpStatusSkipped
				logger.Infof("[Sequencer] %s 目标状态已满足，跳过提交: vault=%s", op.kind, op.vault)
			} else {
				res.Status = core.OpStatusConfirmed
				logger.Infof("[Sequencer] %s 上次提交已生效: vault=%s attempts=%d", op.kind, op.vault, res.Attempts)
			}
			break
		}

		res.Attempts = attempt
		rec.Attempts = attempt
		sig, err := s.submitAndConfirm(ctx, op, p.instruction, rec)
		if sig != "" {
			res.Signature = sig
		}
		if err == nil {
			res.Status = core.OpStatusConfirmed
			break
		}
		if !op.kind.Resubmittable() || !core.IsRetryable(err) || attempt >= s.policy.MaxAttempts {
			return s.fail(ctx, res, rec, err)
		}
		logger.Warnf("[Sequencer] %s 第 %d 次提交失败，%s 后重新检查前置条件并重试: vault=%s err=%v",
			op.kind, attempt, backoff.Timeout(), op.vault, err)
	}

	st, err := s.verifier.Verify(ctx, op.vault, op.program, p.expect)
	if err != nil {
		logger.Errorf("[Sequencer] %s 确认后校验失败: vault=%s sig=%s err=%v", op.kind, op.vault, res.Signature, err)
		return s.fail(ctx, res, rec, err)
	}
	res.State = st
	if p.onConfirmed != nil {
		p.onConfirmed(ctx, st)
	}

	rec.Status = res.Status
	rec.Signature = res.Signature
	s.record(ctx, rec)
	s.publish(core.EventOpConfirmed, res, nil)
	logger.Infof("[Sequencer] %s %s: vault=%s sig=%s total_assets=%d total_shares=%d",
		op.kind, res.Status, op.vault, res.Signature, st.TotalAssets, st.TotalShares)
	return res, nil
}

// submitAndConfirm 提交交易并轮询确认；超过 ConfirmTimeout 返回 ErrTransactionTimeout
func (s *Sequencer) submitAndConfirm(ctx context.Context, op *operation, ix ledger.Instruction, rec *journal.OpRecord) (string, error) {
	sig, err := s.ledger.SendTransaction(ctx, &ledger.Transaction{
		FeePayer:     op.payer,
		Instructions: []ledger.Instruction{ix},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s submit canceled, outcome unknown: %w", op.kind, ctxErr)
		}
		return "", fmt.Errorf("%s submit: %w", op.kind, err)
	}

	rec.Status = core.OpStatusSubmitted
	rec.Signature = sig
	s.record(ctx, rec)
	logger.Debugf("[Sequencer] %s 已提交: vault=%s sig=%s", op.kind, op.vault, sig)

	confirmCtx, cancel := context.WithTimeout(ctx, s.policy.ConfirmTimeout)
	defer cancel()
	poll := retry.NewBackoff(s.policy.PollInterval, s.policy.MaxBackoff)
	for {
		st, err := s.ledger.GetSignatureStatus(confirmCtx, sig)
		switch {
		case err != nil && !errors.Is(err, core.ErrTransient):
			return sig, fmt.Errorf("%s confirm %s: %w", op.kind, sig, err)
		case err != nil:
			logger.Debugf("[Sequencer] 查询确认状态失败，继续轮询: sig=%s err=%v", sig, err)
		case st.Status == ledger.StatusConfirmed:
			return sig, nil
		case st.Status == ledger.StatusFailed:
			return sig, fmt.Errorf("%w: %s %s failed on chain: %s", core.ErrTransactionRejected, op.kind, sig, st.Err)
		}

		if err := poll.Wait(confirmCtx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sig, fmt.Errorf("%s %s canceled while awaiting confirmation, outcome unknown: %w", op.kind, sig, ctxErr)
			}
			return sig, fmt.Errorf("%w: %s %s not confirmed within %s", core.ErrTransactionTimeout, op.kind, sig, s.policy.ConfirmTimeout)
		}
	}
}

func (s *Sequencer) fail(ctx context.Context, res *OpResult, rec *journal.OpRecord, err error) (*OpResult, error) {
	res.Status = core.OpStatusFailed
	rec.Status = core.OpStatusFailed
	rec.Signature = res.Signature
	rec.Error = err.Error()
	s.record(ctx, rec)
	s.publish(core.EventOpFailed, res, err)
	return res, err
}

// record 日志写入失败不影响操作结果
func (s *Sequencer) record(ctx context.Context, rec *journal.OpRecord) {
	rec.UpdatedAt = s.now().Unix()
	if err := s.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warnf("[Sequencer] 写入操作日志失败: id=%s err=%v", rec.ID, err)
	}
}

func (s *Sequencer) publish(eventType core.EventType, res *OpResult, opErr error) {
	fields := map[string]interface{}{
		"id":        res.ID,
		"kind":      res.Kind.String(),
		"vault":     res.Vault.String(),
		"status":    res.Status.String(),
		"signature": res.Signature,
		"attempts":  res.Attempts,
	}
	if res.State != nil {
		fields["total_assets"] = res.State.TotalAssets
		fields["total_shares"] = res.State.TotalShares
		fields["emergency_stop"] = res.State.EmergencyStop
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
	}
	s.events.Publish(&core.Event{
		Type:   eventType,
		Key:    res.Vault.Bytes(),
		Fields: fields,
		At:     s.now(),
	})
}
