package vault

import (
	"bytes"
	"fmt"

	"github.com/near/borsh-go"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
)

// 指令名与 Anchor 方法名一致，discriminator = sha256("global:<name>")[:8]
var instructionNames = map[core.OpKind]string{
	core.OpInitialize:    "initialize_vault",
	core.OpDeposit:       "deposit",
	core.OpWithdraw:      "withdraw",
	core.OpRebalance:     "rebalance",
	core.OpEmergencyStop: "emergency_stop",
	core.OpUpdateParams:  "update_vault_params",
}

var instructionDiscriminators = func() map[core.OpKind][DiscriminatorLen]byte {
	m := make(map[core.OpKind][DiscriminatorLen]byte, len(instructionNames))
	for kind, name := range instructionNames {
		m[kind] = discriminator("global:" + name)
	}
	return m
}()

func InstructionDiscriminator(kind core.OpKind) ([DiscriminatorLen]byte, bool) {
	d, ok := instructionDiscriminators[kind]
	return d, ok
}

type InitializeArgs struct {
	TargetLeverage        uint8
	RebalanceThresholdBps uint16
	MaxSlippageBps        uint16
}

type AmountArgs struct {
	Amount uint64
}

// UpdateParamsArgs 指针字段按 borsh Option 编码
type UpdateParamsArgs struct {
	TargetLeverage        *uint8
	RebalanceThresholdBps *uint16
	MaxSlippageBps        *uint16
}

func encodeInstructionData(kind core.OpKind, args interface{}) ([]byte, error) {
	d, ok := instructionDiscriminators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown instruction kind: %d", kind)
	}
	data := append([]byte(nil), d[:]...)
	if args == nil {
		return data, nil
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", kind, err)
	}
	return append(data, body...), nil
}

// DecodeInstruction 识别指令类型，返回参数部分
func DecodeInstruction(data []byte) (core.OpKind, []byte, error) {
	if len(data) < DiscriminatorLen {
		return 0, nil, fmt.Errorf("instruction data too short: %d", len(data))
	}
	for kind, d := range instructionDiscriminators {
		if bytes.Equal(data[:DiscriminatorLen], d[:]) {
			return kind, data[DiscriminatorLen:], nil
		}
	}
	return 0, nil, fmt.Errorf("unknown instruction discriminator: %x", data[:DiscriminatorLen])
}

func DecodeArgs(args []byte, v interface{}) error {
	return borsh.Deserialize(v, args)
}

func InitializeInstruction(programID, state, token, admin, mint types.Pubkey, params Params) (ledger.Instruction, error) {
	data, err := encodeInstructionData(core.OpInitialize, InitializeArgs{
		TargetLeverage:        params.TargetLeverage,
		RebalanceThresholdBps: params.RebalanceThresholdBps,
		MaxSlippageBps:        params.MaxSlippageBps,
	})
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: state, IsWritable: true},
			{Pubkey: token, IsWritable: true},
			{Pubkey: admin, IsSigner: true, IsWritable: true},
			{Pubkey: mint},
			{Pubkey: consts.DriftProgram},
			{Pubkey: consts.TokenProgram},
			{Pubkey: consts.SystemProgram},
			{Pubkey: consts.SysVarRent},
		},
		Data: data,
	}, nil
}

// DepositInstruction 账户顺序：state, vault token, 用户 token, 用户(签名), token program
func DepositInstruction(programID, state, token, userToken, user types.Pubkey, amount uint64) (ledger.Instruction, error) {
	return transferInstruction(core.OpDeposit, programID, state, token, userToken, user, amount)
}

func WithdrawInstruction(programID, state, token, userToken, user types.Pubkey, amount uint64) (ledger.Instruction, error) {
	return transferInstruction(core.OpWithdraw, programID, state, token, userToken, user, amount)
}

func transferInstruction(kind core.OpKind, programID, state, token, userToken, user types.Pubkey, amount uint64) (ledger.Instruction, error) {
	data, err := encodeInstructionData(kind, AmountArgs{Amount: amount})
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: state, IsWritable: true},
			{Pubkey: token, IsWritable: true},
			{Pubkey: userToken, IsWritable: true},
			{Pubkey: user, IsSigner: true, IsWritable: true},
			{Pubkey: consts.TokenProgram},
		},
		Data: data,
	}, nil
}

// DriftAccounts 再平衡所需的外部衍生品账户
type DriftAccounts struct {
	User      types.Pubkey
	UserStats types.Pubkey
	State     types.Pubkey
}

func RebalanceInstruction(programID, state types.Pubkey, drift DriftAccounts, authority types.Pubkey) (ledger.Instruction, error) {
	data, err := encodeInstructionData(core.OpRebalance, nil)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: state, IsWritable: true},
			{Pubkey: drift.User, IsWritable: true},
			{Pubkey: drift.UserStats, IsWritable: true},
			{Pubkey: drift.State, IsWritable: true},
			{Pubkey: consts.DriftProgram},
			{Pubkey: authority, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}, nil
}

func EmergencyStopInstruction(programID, state, admin types.Pubkey) (ledger.Instruction, error) {
	data, err := encodeInstructionData(core.OpEmergencyStop, nil)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return adminInstruction(programID, state, admin, data), nil
}

func UpdateParamsInstruction(programID, state, admin types.Pubkey, update ParamsUpdate) (ledger.Instruction, error) {
	data, err := encodeInstructionData(core.OpUpdateParams, UpdateParamsArgs{
		TargetLeverage:        update.TargetLeverage,
		RebalanceThresholdBps: update.RebalanceThresholdBps,
		MaxSlippageBps:        update.MaxSlippageBps,
	})
	if err != nil {
		return ledger.Instruction{}, err
	}
	return adminInstruction(programID, state, admin, data), nil
}

func adminInstruction(programID, state, admin types.Pubkey, data []byte) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: state, IsWritable: true},
			{Pubkey: admin, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}
