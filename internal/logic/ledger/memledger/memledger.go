// Package memledger 内存版账本：模拟金库程序与 SPL Token 转账，并支持故障注入。
// 用于测试以及 smoke --simulate。
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

const rentExemptLamports = 3_000_000

type Option func(*Ledger)

// WithClock 替换链上时钟
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithProgram 额外部署一个金库程序实例，用于迁移
func WithProgram(programID types.Pubkey) Option {
	return func(l *Ledger) { l.programs[programID] = struct{}{} }
}

// WithConfirmDelay 每笔交易需被查询 polls 次后才显示为已确认
func WithConfirmDelay(polls int) Option {
	return func(l *Ledger) { l.confirmDelay = polls }
}

// WithSkipPreflight 执行失败的交易仍返回签名，状态为失败，而不是在提交时被拒绝
func WithSkipPreflight() Option {
	return func(l *Ledger) { l.skipPreflight = true }
}

type txRecord struct {
	status ledger.SignatureStatus
	polls  int
}

type Ledger struct {
	mu sync.Mutex

	programs      map[types.Pubkey]struct{}
	accounts      map[types.Pubkey]*ledger.Account
	txs           map[string]*txRecord
	slot          uint64
	now           func() time.Time
	confirmDelay  int
	skipPreflight bool

	// 故障注入
	failSends int  // 提交前失败，交易未执行
	dropSends int  // 交易已执行但回执丢失
	stalled   bool // 所有交易停留在 pending

	sendAttempts int
	executed     map[core.OpKind]int
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(programID types.Pubkey, opts ...Option) *Ledger {
	l := &Ledger{
		programs: map[types.Pubkey]struct{}{programID: {}},
		accounts: make(map[types.Pubkey]*ledger.Account),
		txs:      make(map[string]*txRecord),
		now:      time.Now,
		executed: make(map[core.OpKind]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return ledger.FindProgramAddress(seeds, programID)
}

func (l *Ledger) GetAccount(ctx context.Context, address types.Pubkey) (*ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (l *Ledger) SendTransaction(ctx context.Context, tx *ledger.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sendAttempts++
	if l.failSends > 0 {
		l.failSends--
		return "", fmt.Errorf("%w: connection reset by peer", core.ErrTransient)
	}
	if tx == nil || tx.FeePayer == nil {
		return "", fmt.Errorf("%w: transaction without fee payer", core.ErrTransactionRejected)
	}

	signed := map[types.Pubkey]struct{}{tx.FeePayer.PublicKey(): {}}
	for _, s := range tx.Signers {
		signed[s.PublicKey()] = struct{}{}
	}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if _, ok := signed[meta.Pubkey]; meta.IsSigner && !ok {
				return "", fmt.Errorf("%w: missing signature for %s", core.ErrTransactionRejected, meta.Pubkey)
			}
		}
	}

	l.slot++
	sig := l.newSignature(tx)
	ex := &execution{l: l, overlay: make(map[types.Pubkey]*ledger.Account)}
	var kinds []core.OpKind
	var execErr error
	for _, ix := range tx.Instructions {
		kind, err := ex.apply(ix)
		if err != nil {
			execErr = err
			break
		}
		kinds = append(kinds, kind)
	}

	if execErr != nil {
		if !l.skipPreflight {
			return "", fmt.Errorf("%w: simulation failed: %v", core.ErrTransactionRejected, execErr)
		}
		l.txs[sig] = &txRecord{status: ledger.SignatureStatus{Status: ledger.StatusFailed, Slot: l.slot, Err: execErr.Error()}}
		return sig, nil
	}

	for addr, acc := range ex.overlay {
		l.accounts[addr] = acc
	}
	for _, kind := range kinds {
		l.executed[kind]++
	}
	l.txs[sig] = &txRecord{status: ledger.SignatureStatus{Status: ledger.StatusConfirmed, Slot: l.slot}}

	if l.dropSends > 0 {
		l.dropSends--
		return "", fmt.Errorf("%w: response lost after submit", core.ErrTransient)
	}
	return sig, nil
}

func (l *Ledger) GetSignatureStatus(ctx context.Context, signature string) (ledger.SignatureStatus, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SignatureStatus{}, fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.txs[signature]
	if !ok || l.stalled {
		return ledger.SignatureStatus{Status: ledger.StatusPending}, nil
	}
	rec.polls++
	if rec.polls <= l.confirmDelay {
		return ledger.SignatureStatus{Status: ledger.StatusPending, Slot: rec.status.Slot}, nil
	}
	return rec.status, nil
}

// FailNextSends 接下来 n 次提交在到达账本前失败
func (l *Ledger) FailNextSends(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSends = n
}

// DropNextResponses 接下来 n 次提交会被执行，但调用方收到网络错误
func (l *Ledger) DropNextResponses(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropSends = n
}

func (l *Ledger) StallConfirmations(stalled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stalled = stalled
}

func (l *Ledger) SendAttempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendAttempts
}

// Executed 成功执行的某类指令次数
func (l *Ledger) Executed(kind core.OpKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed[kind]
}

// Mutate 直接修改金库状态账户，模拟带外变更
func (l *Ledger) Mutate(address types.Pubkey, fn func(s *vault.State)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	s, err := vault.DecodeState(acc.Data)
	if err != nil {
		return err
	}
	fn(s)
	data, err := vault.EncodeState(s)
	if err != nil {
		return err
	}
	acc.Data = data
	return nil
}

// SetAccount 直接写入任意账户
func (l *Ledger) SetAccount(acc ledger.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[acc.Address] = cloneAccount(&acc)
}

// CreateTokenAccount 为 owner 创建并注资一个 token 账户
func (l *Ledger) CreateTokenAccount(owner, mint types.Pubkey, amount uint64) types.Pubkey {
	addr := ledger.GenerateSigner().PublicKey()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = &ledger.Account{
		Address:  addr,
		Lamports: rentExemptLamports,
		Owner:    consts.TokenProgram,
		Data:     encodeTokenAccount(tokenAccount{Mint: mint, Owner: owner, Amount: amount}),
	}
	return addr
}

func (l *Ledger) TokenBalance(address types.Pubkey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[address]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	t, err := decodeTokenAccount(acc.Data)
	if err != nil {
		return 0, err
	}
	return t.Amount, nil
}

func (l *Ledger) newSignature(tx *ledger.Transaction) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], l.slot)
	h.Write(buf[:])
	for _, ix := range tx.Instructions {
		h.Write(ix.Data)
	}
	first := h.Sum(nil)
	second := sha256.Sum256(first)
	return base58.Encode(append(first, second[:]...))
}

func cloneAccount(acc *ledger.Account) *ledger.Account {
	c := *acc
	c.Data = append([]byte(nil), acc.Data...)
	return &c
}

// 程序错误，对应链上 Anchor 错误名
var (
	errEmergencyStopActive = errors.New("EmergencyStopActive")
	errVaultAtCapacity     = errors.New("VaultAtCapacity")
	errInsufficientFunds   = errors.New("InsufficientFunds")
	errRebalanceCooldown   = errors.New("RebalanceCooldown")
	errConstraintSeeds     = errors.New("ConstraintSeeds")
	errConstraintHasOne    = errors.New("ConstraintHasOne")
	errAccountInUse        = errors.New("account already in use")
	errAccountNotInit      = errors.New("AccountNotInitialized")
	errInvalidParams       = errors.New("InvalidParams")
	errTokenMismatch       = errors.New("token account constraint violated")
	errMathOverflow        = errors.New("MathOverflow")
)
