package vault

import (
	"fmt"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
)

// Params 可由管理员设置的金库参数
type Params struct {
	TargetLeverage        uint8  `json:"target_leverage" yaml:"target_leverage"`
	RebalanceThresholdBps uint16 `json:"rebalance_threshold_bps" yaml:"rebalance_threshold_bps"`
	MaxSlippageBps        uint16 `json:"max_slippage_bps" yaml:"max_slippage_bps"`
}

func (p Params) Validate() error {
	if p.TargetLeverage < consts.MinLeverage || p.TargetLeverage > consts.MaxLeverage {
		return fmt.Errorf("%w: target leverage %d out of range [%d, %d]",
			core.ErrInvalidParams, p.TargetLeverage, consts.MinLeverage, consts.MaxLeverage)
	}
	if p.RebalanceThresholdBps < consts.MinRebalanceThresholdBps || p.RebalanceThresholdBps > consts.MaxRebalanceThresholdBps {
		return fmt.Errorf("%w: rebalance threshold %d bps out of range [%d, %d]",
			core.ErrInvalidParams, p.RebalanceThresholdBps, consts.MinRebalanceThresholdBps, consts.MaxRebalanceThresholdBps)
	}
	if p.MaxSlippageBps > consts.MaxSlippageBps {
		return fmt.Errorf("%w: max slippage %d bps exceeds %d",
			core.ErrInvalidParams, p.MaxSlippageBps, consts.MaxSlippageBps)
	}
	return nil
}

// Diff 返回与 other 不一致的字段
func (p Params) Diff(other Params) []core.Discrepancy {
	var out []core.Discrepancy
	if p.TargetLeverage != other.TargetLeverage {
		out = append(out, core.Discrepancy{Field: "target_leverage", Expected: p.TargetLeverage, Observed: other.TargetLeverage})
	}
	if p.RebalanceThresholdBps != other.RebalanceThresholdBps {
		out = append(out, core.Discrepancy{Field: "rebalance_threshold_bps", Expected: p.RebalanceThresholdBps, Observed: other.RebalanceThresholdBps})
	}
	if p.MaxSlippageBps != other.MaxSlippageBps {
		out = append(out, core.Discrepancy{Field: "max_slippage_bps", Expected: p.MaxSlippageBps, Observed: other.MaxSlippageBps})
	}
	return out
}

// ParamsUpdate 部分更新，nil 字段保持不变
type ParamsUpdate struct {
	TargetLeverage        *uint8
	RebalanceThresholdBps *uint16
	MaxSlippageBps        *uint16
}

// FullUpdate 用完整参数构造覆盖所有字段的更新
func FullUpdate(p Params) ParamsUpdate {
	return ParamsUpdate{
		TargetLeverage:        &p.TargetLeverage,
		RebalanceThresholdBps: &p.RebalanceThresholdBps,
		MaxSlippageBps:        &p.MaxSlippageBps,
	}
}

func (u ParamsUpdate) IsEmpty() bool {
	return u.TargetLeverage == nil && u.RebalanceThresholdBps == nil && u.MaxSlippageBps == nil
}

// Apply 返回应用更新后的参数
func (u ParamsUpdate) Apply(p Params) Params {
	if u.TargetLeverage != nil {
		p.TargetLeverage = *u.TargetLeverage
	}
	if u.RebalanceThresholdBps != nil {
		p.RebalanceThresholdBps = *u.RebalanceThresholdBps
	}
	if u.MaxSlippageBps != nil {
		p.MaxSlippageBps = *u.MaxSlippageBps
	}
	return p
}

// Validate 校验更新中给出的字段
func (u ParamsUpdate) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("%w: empty params update", core.ErrInvalidParams)
	}
	if u.TargetLeverage != nil && (*u.TargetLeverage < consts.MinLeverage || *u.TargetLeverage > consts.MaxLeverage) {
		return fmt.Errorf("%w: target leverage %d out of range [%d, %d]",
			core.ErrInvalidParams, *u.TargetLeverage, consts.MinLeverage, consts.MaxLeverage)
	}
	if u.RebalanceThresholdBps != nil &&
		(*u.RebalanceThresholdBps < consts.MinRebalanceThresholdBps || *u.RebalanceThresholdBps > consts.MaxRebalanceThresholdBps) {
		return fmt.Errorf("%w: rebalance threshold %d bps out of range [%d, %d]",
			core.ErrInvalidParams, *u.RebalanceThresholdBps, consts.MinRebalanceThresholdBps, consts.MaxRebalanceThresholdBps)
	}
	if u.MaxSlippageBps != nil && *u.MaxSlippageBps > consts.MaxSlippageBps {
		return fmt.Errorf("%w: max slippage %d bps exceeds %d",
			core.ErrInvalidParams, *u.MaxSlippageBps, consts.MaxSlippageBps)
	}
	return nil
}
