package journal

import (
	"context"
	"errors"

	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/types"
)

var ErrNotFound = errors.New("journal record not found")

// OpRecord 单个操作的生命周期记录
type OpRecord struct {
	ID        string        `json:"id"`
	Kind      core.OpKind   `json:"kind"`
	Vault     types.Pubkey  `json:"vault"`
	Signer    types.Pubkey  `json:"signer"`
	Amount    uint64        `json:"amount,omitempty"`
	Signature string        `json:"signature,omitempty"`
	Status    core.OpStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt int64         `json:"updated_at"` // Unix 秒
}

// OpJournal 操作状态记录（提交前写 submitted，结束后写 confirmed / failed）
type OpJournal interface {
	Record(ctx context.Context, rec *OpRecord) error
	Get(ctx context.Context, id string) (*OpRecord, error)
	GetStatus(ctx context.Context, id string) (core.OpStatus, error)
}

// PositionBook 每个 (金库, 用户) 持有的份额，仅记录已确认的存取款
type PositionBook interface {
	AddShares(ctx context.Context, vault, user types.Pubkey, delta int64) (int64, error)
	Shares(ctx context.Context, vault, user types.Pubkey) (uint64, error)
}

// PlanStore 迁移计划记录，每次状态转换后覆盖写入
type PlanStore interface {
	SavePlan(ctx context.Context, id string, data []byte) error
	LoadPlan(ctx context.Context, id string) ([]byte, error)
}

type Store interface {
	OpJournal
	PositionBook
	PlanStore
}
