// Package migration 把金库从一个程序实例迁移到另一个：备份 → 创建目标金库 → 参数核对 → 切换。
// 资产不会自动转移，需要外部程序提供专门的转移指令。
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/jsonx"

	"vault-orchestrator-sol/internal/logic/backup"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/journal"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
)

var ErrInvalidTransition = errors.New("invalid migration transition")

type PlanRequest struct {
	SourceProgram      types.Pubkey
	DestinationProgram types.Pubkey
	SourceVault        types.Pubkey
	// Mint 源 token 账户不可读时使用的兜底 mint
	Mint types.Pubkey
}

type Coordinator struct {
	seq     *sequencer.Sequencer
	backups *backup.FileStore
	plans   journal.PlanStore
	events  core.EventSink
	now     func() time.Time
}

func NewCoordinator(seq *sequencer.Sequencer, backups *backup.FileStore, plans journal.PlanStore, events core.EventSink) *Coordinator {
	if events == nil {
		events = core.NopSink{}
	}
	return &Coordinator{seq: seq, backups: backups, plans: plans, events: events, now: time.Now}
}

// NewPlan 创建并持久化一个 Planned 状态的计划
func (c *Coordinator) NewPlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if req.SourceVault.IsZero() || req.SourceProgram.IsZero() || req.DestinationProgram.IsZero() {
		return nil, fmt.Errorf("%w: source vault and program ids are required", core.ErrPreconditionFailed)
	}
	if req.SourceProgram == req.DestinationProgram {
		return nil, fmt.Errorf("%w: source and destination program are identical (%s)", core.ErrPreconditionFailed, req.SourceProgram)
	}
	plan := &Plan{
		ID:                 uuid.NewString(),
		SourceProgram:      req.SourceProgram,
		DestinationProgram: req.DestinationProgram,
		SourceVault:        req.SourceVault,
		Mint:               req.Mint,
		Status:             StatusPlanned,
		CreatedAt:          c.now().UTC(),
	}
	if err := c.save(ctx, plan); err != nil {
		return nil, err
	}
	logger.Infof("[Migration] 新建迁移计划: id=%s vault=%s %s -> %s",
		plan.ID, plan.SourceVault, plan.SourceProgram, plan.DestinationProgram)
	return plan, nil
}

func (c *Coordinator) LoadPlan(ctx context.Context, id string) (*Plan, error) {
	data, err := c.plans.LoadPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	var plan Plan
	if err := jsonx.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan %s: %w", id, err)
	}
	return &plan, nil
}

// Run 依次执行全部步骤，返回切换清单
func (c *Coordinator) Run(ctx context.Context, plan *Plan, admin ledger.Signer) (*backup.CutoverManifest, error) {
	if err := c.Backup(ctx, plan); err != nil {
		return nil, err
	}
	if err := c.Provision(ctx, plan, admin); err != nil {
		return nil, err
	}
	if err := c.Reconcile(ctx, plan); err != nil {
		return nil, err
	}
	return c.CutOver(ctx, plan)
}

// Backup Planned → BackedUp：完整保存源金库账户原始数据；读取失败为 SourceUnavailable
func (c *Coordinator) Backup(ctx context.Context, plan *Plan) error {
	if err := c.expect(plan, StatusPlanned); err != nil {
		return err
	}
	snap, err := c.seq.Verifier().Fetch(ctx, plan.SourceVault, plan.SourceProgram)
	if err != nil {
		return c.abort(ctx, plan, fmt.Errorf("%w: %w", core.ErrSourceUnavailable, err))
	}

	// mint 以源 token 账户为准
	sourceToken, _, err := c.seq.Deriver().TokenAddress(plan.SourceVault, plan.SourceProgram)
	if err != nil {
		return c.abort(ctx, plan, err)
	}
	if tokenSnap, err := c.seq.Verifier().FetchToken(ctx, sourceToken); err == nil {
		plan.Mint = tokenSnap.Mint
	} else if plan.Mint.IsZero() {
		return c.abort(ctx, plan, fmt.Errorf("%w: token account %s: %w", core.ErrSourceUnavailable, sourceToken, err))
	} else {
		logger.Warnf("[Migration] 源 token 账户不可读，使用配置的 mint: token=%s mint=%s err=%v", sourceToken, plan.Mint, err)
	}

	path, err := c.backups.Write(backup.NewSnapshot(snap.Account, c.now()))
	if err != nil {
		return c.abort(ctx, plan, err)
	}
	params := snap.State.Params()
	plan.ParamSnapshot = &params
	plan.SourceAdmin = snap.State.Admin
	plan.BackupPath = path
	logger.Infof("[Migration] 源金库已备份: plan=%s path=%s lamports=%d bytes=%d",
		plan.ID, path, snap.Account.Lamports, len(snap.Account.Data))
	return c.advance(ctx, plan, StatusBackedUp)
}

// Provision BackedUp → DestinationProvisioned：用源参数在目标程序下初始化金库。失败时保留备份。
func (c *Coordinator) Provision(ctx context.Context, plan *Plan, admin ledger.Signer) error {
	if err := c.expect(plan, StatusBackedUp); err != nil {
		return err
	}
	if admin.PublicKey() != plan.SourceAdmin {
		return c.abort(ctx, plan, fmt.Errorf("%w: signer=%s source admin=%s", core.ErrNotAdmin, admin.PublicKey(), plan.SourceAdmin))
	}
	res, err := c.seq.Initialize(ctx, sequencer.InitializeRequest{
		Admin:     admin,
		Params:    *plan.ParamSnapshot,
		Mint:      plan.Mint,
		ProgramID: plan.DestinationProgram,
	})
	if res != nil {
		plan.DestinationVault = res.Addresses.State
		plan.DestinationToken = res.Addresses.Token
	}
	if err != nil {
		logger.Errorf("[Migration] 目标金库创建失败，备份保留在 %s: plan=%s err=%v", plan.BackupPath, plan.ID, err)
		return c.abort(ctx, plan, err)
	}
	return c.advance(ctx, plan, StatusDestinationProvisioned)
}

// Reconcile DestinationProvisioned → Reconciled：目标金库参数须与源快照逐字段一致
func (c *Coordinator) Reconcile(ctx context.Context, plan *Plan) error {
	if err := c.expect(plan, StatusDestinationProvisioned); err != nil {
		return err
	}
	snap, err := c.seq.Verifier().Fetch(ctx, plan.DestinationVault, plan.DestinationProgram)
	if err != nil {
		return c.abort(ctx, plan, err)
	}
	diff := plan.ParamSnapshot.Diff(snap.State.Params())
	if snap.State.Admin != plan.SourceAdmin {
		diff = append(diff, core.Discrepancy{Field: "admin", Expected: plan.SourceAdmin, Observed: snap.State.Admin})
	}
	if len(diff) > 0 {
		return c.abort(ctx, plan, &core.ParameterMismatchError{
			Source:        plan.SourceVault,
			Destination:   plan.DestinationVault,
			Discrepancies: diff,
		})
	}
	return c.advance(ctx, plan, StatusReconciled)
}

// CutOver Reconciled → CutOver：写出新旧金库映射清单。源金库余额不会被转移。
func (c *Coordinator) CutOver(ctx context.Context, plan *Plan) (*backup.CutoverManifest, error) {
	if err := c.expect(plan, StatusReconciled); err != nil {
		return nil, err
	}
	manifest := &backup.CutoverManifest{
		PlanID:             plan.ID,
		SourceProgram:      plan.SourceProgram,
		DestinationProgram: plan.DestinationProgram,
		SourceVault:        plan.SourceVault,
		DestinationVault:   plan.DestinationVault,
		DestinationToken:   plan.DestinationToken,
		BackupPath:         plan.BackupPath,
		CutOverAt:          c.now().UTC(),
		Note:               "assets are not transferred; source balances require a dedicated transfer instruction",
	}
	if snap, err := c.seq.Verifier().Fetch(ctx, plan.SourceVault, plan.SourceProgram); err == nil {
		manifest.StrandedAssets = snap.State.TotalAssets
		manifest.StrandedShares = snap.State.TotalShares
	} else if saved, rerr := c.backups.Read(plan.BackupPath); rerr == nil && saved.Summary != nil {
		logger.Warnf("[Migration] 源金库不可读，使用备份中的余额: plan=%s err=%v", plan.ID, err)
		manifest.StrandedAssets = saved.Summary.TotalAssets
		manifest.StrandedShares = saved.Summary.TotalShares
	}

	path, err := c.backups.WriteManifest(manifest)
	if err != nil {
		return nil, c.abort(ctx, plan, err)
	}
	plan.ManifestPath = path
	if manifest.StrandedAssets > 0 {
		logger.Warnf("[Migration] 资产未自动转移: 源金库 %s 仍有 total_assets=%d total_shares=%d",
			plan.SourceVault, manifest.StrandedAssets, manifest.StrandedShares)
	}
	if err := c.advance(ctx, plan, StatusCutOver); err != nil {
		return nil, err
	}
	logger.Infof("[Migration] 切换完成: plan=%s %s -> %s manifest=%s",
		plan.ID, plan.SourceVault, plan.DestinationVault, path)
	return manifest, nil
}

func (c *Coordinator) expect(plan *Plan, status Status) error {
	if plan.Status == StatusAborted {
		return fmt.Errorf("%w: plan %s (%s)", core.ErrPlanAborted, plan.ID, plan.AbortReason)
	}
	if plan.Status != status {
		return fmt.Errorf("%w: plan %s is %s, want %s", ErrInvalidTransition, plan.ID, plan.Status, status)
	}
	return nil
}

func (c *Coordinator) advance(ctx context.Context, plan *Plan, to Status) error {
	if next[plan.Status] != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, plan.Status, to)
	}
	c.transit(ctx, plan, to, nil)
	return nil
}

// abort 任何步骤失败都进入 Aborted；原始错误保留以便 errors.Is 判断
func (c *Coordinator) abort(ctx context.Context, plan *Plan, cause error) error {
	c.transit(ctx, plan, StatusAborted, cause)
	plan.AbortReason = cause.Error()
	if err := c.save(ctx, plan); err != nil {
		logger.Errorf("[Migration] 保存中止计划失败: plan=%s err=%v", plan.ID, err)
	}
	logger.Errorf("[Migration] 迁移中止: plan=%s err=%v", plan.ID, cause)
	return fmt.Errorf("%w: plan %s: %w", core.ErrPlanAborted, plan.ID, cause)
}

func (c *Coordinator) transit(ctx context.Context, plan *Plan, to Status, cause error) {
	t := Transition{From: plan.Status, To: to, At: c.now().UTC()}
	if cause != nil {
		t.Error = cause.Error()
	}
	plan.History = append(plan.History, t)
	plan.Status = to
	if err := c.save(ctx, plan); err != nil {
		logger.Warnf("[Migration] 保存计划失败: plan=%s status=%s err=%v", plan.ID, to, err)
	}

	fields := map[string]interface{}{
		"plan_id":     plan.ID,
		"from":        string(t.From),
		"to":          string(t.To),
		"source":      plan.SourceVault.String(),
		"destination": plan.DestinationVault.String(),
	}
	if t.Error != "" {
		fields["error"] = t.Error
	}
	c.events.Publish(&core.Event{
		Type:   core.EventMigrationTransited,
		Key:    plan.SourceVault.Bytes(),
		Fields: fields,
		At:     t.At,
	})
}

func (c *Coordinator) save(ctx context.Context, plan *Plan) error {
	data, err := jsonx.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan %s: %w", plan.ID, err)
	}
	if err := c.plans.SavePlan(context.WithoutCancel(ctx), plan.ID, data); err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}
