package memledger

import (
	"fmt"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

// execution 单笔交易的执行上下文，写入先落在 overlay，成功后整体提交
type execution struct {
	l       *Ledger
	program types.Pubkey // 当前指令的程序 ID
	overlay map[types.Pubkey]*ledger.Account
}

func (e *execution) get(addr types.Pubkey) (*ledger.Account, bool) {
	if acc, ok := e.overlay[addr]; ok {
		return acc, true
	}
	acc, ok := e.l.accounts[addr]
	if !ok {
		return nil, false
	}
	c := cloneAccount(acc)
	e.overlay[addr] = c
	return c, true
}

func (e *execution) put(acc *ledger.Account) {
	e.overlay[acc.Address] = acc
}

func (e *execution) apply(ix ledger.Instruction) (core.OpKind, error) {
	if _, ok := e.l.programs[ix.ProgramID]; !ok {
		return 0, fmt.Errorf("unsupported program %s", ix.ProgramID)
	}
	e.program = ix.ProgramID
	kind, args, err := vault.DecodeInstruction(ix.Data)
	if err != nil {
		return 0, err
	}
	switch kind {
	case core.OpInitialize:
		err = e.initialize(ix.Accounts, args)
	case core.OpDeposit:
		err = e.deposit(ix.Accounts, args)
	case core.OpWithdraw:
		err = e.withdraw(ix.Accounts, args)
	case core.OpRebalance:
		err = e.rebalance(ix.Accounts)
	case core.OpEmergencyStop:
		err = e.emergencyStop(ix.Accounts)
	case core.OpUpdateParams:
		err = e.updateParams(ix.Accounts, args)
	default:
		err = fmt.Errorf("unsupported instruction %s", kind)
	}
	return kind, err
}

func requireAccounts(metas []ledger.AccountMeta, n int) error {
	if len(metas) < n {
		return fmt.Errorf("not enough account keys: got %d, want %d", len(metas), n)
	}
	return nil
}

func (e *execution) loadState(addr types.Pubkey) (*ledger.Account, *vault.State, error) {
	acc, ok := e.get(addr)
	if !ok || acc.Owner != e.program {
		return nil, nil, errAccountNotInit
	}
	s, err := vault.DecodeState(acc.Data)
	if err != nil {
		return nil, nil, err
	}
	// seeds = ["vault", admin], bump = state.bump
	expected, bump, err := e.l.FindProgramAddress([][]byte{[]byte(consts.VaultSeed), s.Admin.Bytes()}, e.program)
	if err != nil || expected != addr || bump != s.Bump {
		return nil, nil, errConstraintSeeds
	}
	return acc, s, nil
}

func (e *execution) storeState(acc *ledger.Account, s *vault.State) error {
	data, err := vault.EncodeState(s)
	if err != nil {
		return err
	}
	acc.Data = data
	e.put(acc)
	return nil
}

func (e *execution) loadToken(addr types.Pubkey) (*ledger.Account, tokenAccount, error) {
	acc, ok := e.get(addr)
	if !ok || acc.Owner != consts.TokenProgram {
		return nil, tokenAccount{}, fmt.Errorf("%w: %s", errTokenMismatch, addr)
	}
	t, err := decodeTokenAccount(acc.Data)
	if err != nil {
		return nil, tokenAccount{}, err
	}
	return acc, t, nil
}

func (e *execution) storeToken(acc *ledger.Account, t tokenAccount) {
	acc.Data = encodeTokenAccount(t)
	e.put(acc)
}

func (e *execution) initialize(metas []ledger.AccountMeta, args []byte) error {
	if err := requireAccounts(metas, 4); err != nil {
		return err
	}
	stateAddr, tokenAddr, admin, mint := metas[0].Pubkey, metas[1].Pubkey, metas[2].Pubkey, metas[3].Pubkey

	var in vault.InitializeArgs
	if err := vault.DecodeArgs(args, &in); err != nil {
		return err
	}
	params := vault.Params{
		TargetLeverage:        in.TargetLeverage,
		RebalanceThresholdBps: in.RebalanceThresholdBps,
		MaxSlippageBps:        in.MaxSlippageBps,
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	expectedState, bump, err := e.l.FindProgramAddress([][]byte{[]byte(consts.VaultSeed), admin.Bytes()}, e.program)
	if err != nil || expectedState != stateAddr {
		return errConstraintSeeds
	}
	expectedToken, _, err := e.l.FindProgramAddress([][]byte{[]byte(consts.VaultTokenAccountSeed), stateAddr.Bytes()}, e.program)
	if err != nil || expectedToken != tokenAddr {
		return errConstraintSeeds
	}
	if _, ok := e.get(stateAddr); ok {
		return errAccountInUse
	}
	if _, ok := e.get(tokenAddr); ok {
		return errAccountInUse
	}

	s := vault.NewState(admin, bump, params)
	s.LastRebalanceTime = e.l.now().Unix()
	if err := e.storeState(&ledger.Account{Address: stateAddr, Lamports: rentExemptLamports, Owner: e.program}, s); err != nil {
		return err
	}
	e.storeToken(&ledger.Account{Address: tokenAddr, Lamports: rentExemptLamports, Owner: consts.TokenProgram},
		tokenAccount{Mint: mint, Owner: stateAddr})
	return nil
}

func (e *execution) deposit(metas []ledger.AccountMeta, args []byte) error {
	if err := requireAccounts(metas, 4); err != nil {
		return err
	}
	var in vault.AmountArgs
	if err := vault.DecodeArgs(args, &in); err != nil {
		return err
	}
	stateAcc, s, err := e.loadState(metas[0].Pubkey)
	if err != nil {
		return err
	}
	vaultTokenAcc, vaultToken, err := e.loadToken(metas[1].Pubkey)
	if err != nil {
		return err
	}
	userTokenAcc, userToken, err := e.loadToken(metas[2].Pubkey)
	if err != nil {
		return err
	}
	user := metas[3].Pubkey

	if s.EmergencyStop {
		return errEmergencyStopActive
	}
	if s.TotalAssets+in.Amount > s.MaxCapacity || s.TotalAssets+in.Amount < s.TotalAssets {
		return errVaultAtCapacity
	}
	if vaultToken.Owner != stateAcc.Address || userToken.Mint != vaultToken.Mint || userToken.Owner != user {
		return errTokenMismatch
	}
	if userToken.Amount < in.Amount {
		return errInsufficientFunds
	}
	shares, err := vault.SharesForDeposit(in.Amount, s.TotalAssets, s.TotalShares)
	if err != nil {
		return errMathOverflow
	}

	userToken.Amount -= in.Amount
	vaultToken.Amount += in.Amount
	e.storeToken(userTokenAcc, userToken)
	e.storeToken(vaultTokenAcc, vaultToken)

	s.TotalAssets += in.Amount
	s.TotalShares += shares
	s.NetDeposits += int64(in.Amount)
	return e.storeState(stateAcc, s)
}

func (e *execution) withdraw(metas []ledger.AccountMeta, args []byte) error {
	if err := requireAccounts(metas, 4); err != nil {
		return err
	}
	var in vault.AmountArgs
	if err := vault.DecodeArgs(args, &in); err != nil {
		return err
	}
	stateAcc, s, err := e.loadState(metas[0].Pubkey)
	if err != nil {
		return err
	}
	vaultTokenAcc, vaultToken, err := e.loadToken(metas[1].Pubkey)
	if err != nil {
		return err
	}
	userTokenAcc, userToken, err := e.loadToken(metas[2].Pubkey)
	if err != nil {
		return err
	}

	if s.EmergencyStop {
		return errEmergencyStopActive
	}
	if s.TotalAssets < in.Amount || vaultToken.Amount < in.Amount {
		return errInsufficientFunds
	}
	if vaultToken.Owner != stateAcc.Address || userToken.Mint != vaultToken.Mint {
		return errTokenMismatch
	}
	burn, err := vault.SharesForWithdraw(in.Amount, s.TotalAssets, s.TotalShares)
	if err != nil || burn > s.TotalShares {
		return errMathOverflow
	}

	vaultToken.Amount -= in.Amount
	userToken.Amount += in.Amount
	e.storeToken(vaultTokenAcc, vaultToken)
	e.storeToken(userTokenAcc, userToken)

	s.TotalAssets -= in.Amount
	s.TotalShares -= burn
	s.NetDeposits -= int64(in.Amount)
	return e.storeState(stateAcc, s)
}

func (e *execution) rebalance(metas []ledger.AccountMeta) error {
	if err := requireAccounts(metas, 1); err != nil {
		return err
	}
	stateAcc, s, err := e.loadState(metas[0].Pubkey)
	if err != nil {
		return err
	}
	if s.EmergencyStop {
		return errEmergencyStopActive
	}
	now := e.l.now().Unix()
	if now-s.LastRebalanceTime < s.MinRebalanceInterval {
		return errRebalanceCooldown
	}
	// 内存账本不接衍生品市场，仅记录再平衡时间
	s.LastRebalanceTime = now
	return e.storeState(stateAcc, s)
}

func (e *execution) emergencyStop(metas []ledger.AccountMeta) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	stateAcc, s, err := e.loadState(metas[0].Pubkey)
	if err != nil {
		return err
	}
	if s.Admin != metas[1].Pubkey {
		return errConstraintHasOne
	}
	s.EmergencyStop = true
	return e.storeState(stateAcc, s)
}

func (e *execution) updateParams(metas []ledger.AccountMeta, args []byte) error {
	if err := requireAccounts(metas, 2); err != nil {
		return err
	}
	var in vault.UpdateParamsArgs
	if err := vault.DecodeArgs(args, &in); err != nil {
		return err
	}
	stateAcc, s, err := e.loadState(metas[0].Pubkey)
	if err != nil {
		return err
	}
	if s.Admin != metas[1].Pubkey {
		return errConstraintHasOne
	}
	update := vault.ParamsUpdate{
		TargetLeverage:        in.TargetLeverage,
		RebalanceThresholdBps: in.RebalanceThresholdBps,
		MaxSlippageBps:        in.MaxSlippageBps,
	}
	// 链上允许空更新，仅校验给出的字段
	if !update.IsEmpty() {
		if err := update.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errInvalidParams, err)
		}
	}
	p := update.Apply(s.Params())
	s.TargetLeverage = p.TargetLeverage
	s.RebalanceThresholdBps = p.RebalanceThresholdBps
	s.MaxSlippageBps = p.MaxSlippageBps
	if in.RebalanceThresholdBps != nil {
		s.DeltaThreshold = *in.RebalanceThresholdBps
	}
	return e.storeState(stateAcc, s)
}
