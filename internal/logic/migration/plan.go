package migration

import (
	"time"

	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

// Status 迁移计划状态，显式记录，不从副作用推断
type Status string

const (
	StatusPlanned                Status = "planned"
	StatusBackedUp               Status = "backed_up"
	StatusDestinationProvisioned Status = "destination_provisioned"
	StatusReconciled             Status = "reconciled"
	StatusCutOver                Status = "cut_over"
	StatusAborted                Status = "aborted"
)

// Terminal 终态不可再推进；中止的计划只能重新创建
func (s Status) Terminal() bool {
	return s == StatusCutOver || s == StatusAborted
}

// next 每个状态唯一合法的后继
var next = map[Status]Status{
	StatusPlanned:                StatusBackedUp,
	StatusBackedUp:               StatusDestinationProvisioned,
	StatusDestinationProvisioned: StatusReconciled,
	StatusReconciled:             StatusCutOver,
}

type Transition struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Plan 一次迁移尝试
type Plan struct {
	ID                 string       `json:"id"`
	SourceProgram      types.Pubkey `json:"source_program"`
	DestinationProgram types.Pubkey `json:"destination_program"`
	SourceVault        types.Pubkey `json:"source_vault"`
	// 以下字段随状态推进填充
	SourceAdmin      types.Pubkey  `json:"source_admin"`
	Mint             types.Pubkey  `json:"mint"`
	ParamSnapshot    *vault.Params `json:"param_snapshot,omitempty"`
	BackupPath       string        `json:"backup_path,omitempty"`
	DestinationVault types.Pubkey  `json:"destination_vault"`
	DestinationToken types.Pubkey  `json:"destination_token"`
	ManifestPath     string        `json:"manifest_path,omitempty"`

	Status      Status       `json:"status"`
	AbortReason string       `json:"abort_reason,omitempty"`
	History     []Transition `json:"history"`
	CreatedAt   time.Time    `json:"created_at"`
}
