package ledger

import (
	"context"
	"errors"

	"vault-orchestrator-sol/internal/types"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction 发往外部程序的一条指令
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction 待签名提交的交易；Signers 需包含 FeePayer
type Transaction struct {
	FeePayer     Signer
	Signers      []Signer
	Instructions []Instruction
}

// Account 链上账户原始数据及归属信息
type Account struct {
	Address    types.Pubkey
	Lamports   uint64
	Owner      types.Pubkey
	Executable bool
	Data       []byte
}

type ConfirmationStatus int

const (
	StatusPending   ConfirmationStatus = 0 // 尚未观察到，或未达到确认级别
	StatusConfirmed ConfirmationStatus = 1
	StatusFailed    ConfirmationStatus = 2 // 已上链但执行失败
)

type SignatureStatus struct {
	Status ConfirmationStatus
	Slot   uint64
	Err    string // 链上执行错误描述，仅 StatusFailed 时有值
}

type AccountReader interface {
	// GetAccount 读取账户；账户不存在时返回 ErrAccountNotFound
	GetAccount(ctx context.Context, address types.Pubkey) (*Account, error)
}

type AddressFinder interface {
	FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error)
}

// Ledger 外部执行环境的能力接口：提交、读取、地址推导
type Ledger interface {
	AccountReader
	AddressFinder

	// SendTransaction 签名并提交交易，返回签名（base58）。
	// 链上/预检拒绝返回包装 core.ErrTransactionRejected 的错误，网络类失败包装 core.ErrTransient。
	SendTransaction(ctx context.Context, tx *Transaction) (string, error)

	GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
}
