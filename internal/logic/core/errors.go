package core

import (
	"errors"
	"fmt"
	"strings"

	"vault-orchestrator-sol/internal/types"
)

// 前置条件类错误：逻辑条件不满足，重试不会改变结果，直接返回给调用方
var (
	ErrPreconditionFailed = errors.New("precondition failed")

	ErrAlreadyInitialized = fmt.Errorf("%w: vault already initialized", ErrPreconditionFailed)
	ErrVaultNotFound      = fmt.Errorf("%w: vault not found", ErrPreconditionFailed)
	ErrNotAdmin           = fmt.Errorf("%w: signer is not vault admin", ErrPreconditionFailed)
	ErrInsufficientShares = fmt.Errorf("%w: insufficient redeemable shares", ErrPreconditionFailed)
	ErrEmergencyStopped   = fmt.Errorf("%w: vault is in emergency stop", ErrPreconditionFailed)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrPreconditionFailed)
	ErrInvalidParams      = fmt.Errorf("%w: invalid vault params", ErrPreconditionFailed)
	ErrCapacityExceeded   = fmt.Errorf("%w: vault capacity exceeded", ErrPreconditionFailed)
)

// 提交与确认类错误
var (
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrTransactionTimeout  = errors.New("transaction confirmation timeout")
	ErrTransient           = errors.New("transient ledger failure") // 网络抖动、RPC 不可达等
)

// 迁移与地址推导类错误
var (
	ErrStateMismatch       = errors.New("state mismatch")
	ErrParameterMismatch   = errors.New("parameter mismatch")
	ErrSourceUnavailable   = errors.New("source vault unavailable")
	ErrDerivationExhausted = errors.New("address derivation exhausted")
	ErrPlanAborted         = errors.New("migration plan aborted")
)

// Discrepancy 单个字段的期望值与实际值
type Discrepancy struct {
	Field    string
	Expected interface{}
	Observed interface{}
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: expected=%v observed=%v", d.Field, d.Expected, d.Observed)
}

func joinDiscrepancies(ds []Discrepancy) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, "; ")
}

// StateMismatchError 链上状态与操作声明的预期效果不一致，对整个运行是致命的
type StateMismatchError struct {
	Address       types.Pubkey
	Discrepancies []Discrepancy
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("state mismatch at %s: %s", e.Address, joinDiscrepancies(e.Discrepancies))
}

func (e *StateMismatchError) Is(target error) bool {
	return target == ErrStateMismatch
}

// ParameterMismatchError 迁移目标金库参数与源快照不一致
type ParameterMismatchError struct {
	Source        types.Pubkey
	Destination   types.Pubkey
	Discrepancies []Discrepancy
}

func (e *ParameterMismatchError) Error() string {
	return fmt.Sprintf("parameter mismatch between %s and %s: %s",
		e.Source, e.Destination, joinDiscrepancies(e.Discrepancies))
}

func (e *ParameterMismatchError) Is(target error) bool {
	return target == ErrParameterMismatch
}

// IsRetryable 仅提交/确认类错误可以在安全前提下重试
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrStateMismatch) ||
		errors.Is(err, ErrParameterMismatch) {
		return false
	}
	return errors.Is(err, ErrTransactionRejected) || errors.Is(err, ErrTransactionTimeout) || errors.Is(err, ErrTransient)
}
