package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"

	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/types"
)

// RpcLedger 基于 Solana JSON-RPC 的 Ledger 实现
type RpcLedger struct {
	client *client.Client
}

func NewRpcLedger(endpoint string) (*RpcLedger, error) {
	c := client.NewClient(endpoint)
	if c == nil {
		return nil, errors.New("rpc client init failed")
	}
	return &RpcLedger{client: c}, nil
}

func (l *RpcLedger) FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return FindProgramAddress(seeds, programID)
}

func (l *RpcLedger) GetAccount(ctx context.Context, address types.Pubkey) (*Account, error) {
	info, err := l.client.GetAccountInfo(ctx, address.String())
	if err != nil {
		return nil, classifyRpcError("GetAccountInfo", err)
	}
	// 账户不存在时 RPC 返回 null，SDK 解码为空结构
	if info.Lamports == 0 && info.Owner == (common.PublicKey{}) && len(info.Data) == 0 {
		return nil, ErrAccountNotFound
	}
	return &Account{
		Address:    address,
		Lamports:   info.Lamports,
		Owner:      types.PubkeyFromCommon(info.Owner),
		Executable: info.Executable,
		Data:       info.Data,
	}, nil
}

func (l *RpcLedger) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	if tx == nil || tx.FeePayer == nil {
		return "", fmt.Errorf("%w: transaction without fee payer", core.ErrTransactionRejected)
	}

	blockhash, err := l.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", classifyRpcError("GetLatestBlockhash", err)
	}

	instructions := make([]sdktypes.Instruction, 0, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		metas := make([]sdktypes.AccountMeta, 0, len(ix.Accounts))
		for _, m := range ix.Accounts {
			metas = append(metas, sdktypes.AccountMeta{
				PubKey:     m.Pubkey.ToCommon(),
				IsSigner:   m.IsSigner,
				IsWritable: m.IsWritable,
			})
		}
		instructions = append(instructions, sdktypes.Instruction{
			ProgramID: ix.ProgramID.ToCommon(),
			Accounts:  metas,
			Data:      ix.Data,
		})
	}

	message := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        tx.FeePayer.PublicKey().ToCommon(),
		RecentBlockhash: blockhash.Blockhash,
		Instructions:    instructions,
	})
	raw, err := message.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}

	signers := make(map[types.Pubkey]Signer, len(tx.Signers)+1)
	signers[tx.FeePayer.PublicKey()] = tx.FeePayer
	for _, s := range tx.Signers {
		signers[s.PublicKey()] = s
	}

	// 消息账户表前 NumRequireSignatures 个为签名者，签名顺序与之一致
	required := int(message.Header.NumRequireSignatures)
	signatures := make([]sdktypes.Signature, required)
	for i := 0; i < required; i++ {
		key := types.PubkeyFromCommon(message.Accounts[i])
		signer, ok := signers[key]
		if !ok {
			return "", fmt.Errorf("%w: missing signer %s", core.ErrTransactionRejected, key)
		}
		signatures[i] = signer.Sign(raw)
	}

	sig, err := l.client.SendTransaction(ctx, sdktypes.Transaction{
		Signatures: signatures,
		Message:    message,
	})
	if err != nil {
		return "", classifyRpcError("SendTransaction", err)
	}
	return sig, nil
}

func (l *RpcLedger) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	status, err := l.client.GetSignatureStatus(ctx, signature)
	if err != nil {
		return SignatureStatus{}, classifyRpcError("GetSignatureStatus", err)
	}
	if status == nil {
		return SignatureStatus{Status: StatusPending}, nil
	}
	if status.Err != nil {
		return SignatureStatus{Status: StatusFailed, Slot: status.Slot, Err: fmt.Sprintf("%v", status.Err)}, nil
	}
	if status.ConfirmationStatus == nil {
		return SignatureStatus{Status: StatusPending, Slot: status.Slot}, nil
	}
	switch *status.ConfirmationStatus {
	case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return SignatureStatus{Status: StatusConfirmed, Slot: status.Slot}, nil
	default:
		return SignatureStatus{Status: StatusPending, Slot: status.Slot}, nil
	}
}

// classifyRpcError JSON-RPC 层面的错误（预检失败、签名无效等）视为拒绝，其余视为暂时性失败
func classifyRpcError(method string, err error) error {
	var rpcErr *rpc.JsonRpcError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %s: %v", core.ErrTransactionRejected, method, err)
	}
	return fmt.Errorf("%w: %s: %v", core.ErrTransient, method, err)
}
