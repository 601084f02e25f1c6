package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/journal"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/ledger/memledger"
	"vault-orchestrator-sol/internal/logic/retry"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

var testParams = vault.Params{TargetLeverage: 2, RebalanceThresholdBps: 500, MaxSlippageBps: 100}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []*core.Event
}

func (r *recordingSink) Publish(e *core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(t core.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type env struct {
	l     *memledger.Ledger
	seq   *Sequencer
	store *journal.MemoryStore
	sink  *recordingSink
	admin *ledger.KeypairSigner
	clock *time.Time
}

func newEnv(t *testing.T, l ledger.Ledger, mem *memledger.Ledger, clock *time.Time) *env {
	t.Helper()
	store := journal.NewMemoryStore()
	sink := &recordingSink{}
	seq, err := New(l, store, sink, testPolicy())
	require.NoError(t, err)
	return &env{l: mem, seq: seq, store: store, sink: sink, admin: ledger.GenerateSigner(), clock: clock}
}

func setup(t *testing.T, opts ...memledger.Option) *env {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	opts = append([]memledger.Option{memledger.WithClock(func() time.Time { return now })}, opts...)
	l := memledger.New(consts.VaultProgram, opts...)
	return newEnv(t, l, l, &now)
}

func (e *env) initialize(t *testing.T) *InitializeResult {
	t.Helper()
	res, err := e.seq.Initialize(context.Background(), InitializeRequest{
		Admin: e.admin, Params: testParams, Mint: consts.USDCMint, ProgramID: consts.VaultProgram,
	})
	require.NoError(t, err)
	return res
}

type user struct {
	signer *ledger.KeypairSigner
	token  types.Pubkey
}

func (e *env) newUser(balance uint64) user {
	signer := ledger.GenerateSigner()
	return user{signer: signer, token: e.l.CreateTokenAccount(signer.PublicKey(), consts.USDCMint, balance)}
}

func (e *env) deposit(vaultAddr types.Pubkey, u user, amount uint64) (*OpResult, error) {
	return e.seq.Deposit(context.Background(), TransferRequest{
		Vault: vaultAddr, ProgramID: consts.VaultProgram, User: u.signer, UserToken: u.token, Amount: amount,
	})
}

func (e *env) withdraw(vaultAddr types.Pubkey, u user, amount uint64) (*OpResult, error) {
	return e.seq.Withdraw(context.Background(), TransferRequest{
		Vault: vaultAddr, ProgramID: consts.VaultProgram, User: u.signer, UserToken: u.token, Amount: amount,
	})
}

func TestInitialize(t *testing.T) {
	e := setup(t)
	res := e.initialize(t)

	assert.Equal(t, core.OpStatusConfirmed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.Signature)
	require.NotNil(t, res.State)
	assert.Equal(t, testParams, res.State.Params())
	assert.Equal(t, e.admin.PublicKey(), res.State.Admin)

	addrs, err := e.seq.Deriver().Derive(address.VaultIdentity{Owner: e.admin.PublicKey(), ProgramID: consts.VaultProgram})
	require.NoError(t, err)
	assert.Equal(t, addrs, res.Addresses)

	rec, err := e.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OpStatusConfirmed, rec.Status)
	assert.Equal(t, 1, e.sink.count(core.EventOpConfirmed))
}

func TestInitialize_AlreadyInitialized(t *testing.T) {
	e := setup(t)
	e.initialize(t)

	_, err := e.seq.Initialize(context.Background(), InitializeRequest{
		Admin: e.admin, Params: testParams, Mint: consts.USDCMint, ProgramID: consts.VaultProgram,
	})
	assert.ErrorIs(t, err, core.ErrAlreadyInitialized)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	assert.Equal(t, 1, e.l.Executed(core.OpInitialize))
	assert.Equal(t, 1, e.l.SendAttempts(), "前置条件失败不提交")
	assert.Equal(t, 1, e.sink.count(core.EventOpFailed))
}

func TestInitialize_InvalidParams(t *testing.T) {
	e := setup(t)
	_, err := e.seq.Initialize(context.Background(), InitializeRequest{
		Admin: e.admin, Params: vault.Params{TargetLeverage: 11, RebalanceThresholdBps: 500}, ProgramID: consts.VaultProgram,
	})
	assert.ErrorIs(t, err, core.ErrInvalidParams)
	assert.Equal(t, 0, e.l.SendAttempts())
}

func TestInitialize_RetryAfterTransientFailure(t *testing.T) {
	e := setup(t)
	e.l.FailNextSends(1)

	res := e.initialize(t)
	assert.Equal(t, core.OpStatusConfirmed, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, e.l.Executed(core.OpInitialize))
}

func TestInitialize_LostResponseDetectedAsLanded(t *testing.T) {
	e := setup(t)
	e.l.DropNextResponses(1)

	res := e.initialize(t)
	assert.Equal(t, core.OpStatusConfirmed, res.Status)
	assert.Equal(t, 1, res.Attempts, "重新读取发现已生效，不再提交")
	assert.Equal(t, 1, e.l.SendAttempts())
	assert.Equal(t, 1, e.l.Executed(core.OpInitialize))
}

func TestInitialize_RetriesExhausted(t *testing.T) {
	e := setup(t)
	e.l.FailNextSends(10)

	_, err := e.seq.Initialize(context.Background(), InitializeRequest{
		Admin: e.admin, Params: testParams, Mint: consts.USDCMint, ProgramID: consts.VaultProgram,
	})
	assert.ErrorIs(t, err, core.ErrTransient)
	assert.Equal(t, testPolicy().MaxAttempts, e.l.SendAttempts())
}

func TestDeposit_Sum(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)

	_, err := e.deposit(vaultAddr, u, 100)
	require.NoError(t, err)
	res, err := e.deposit(vaultAddr, u, 50)
	require.NoError(t, err)

	assert.Equal(t, uint64(150), res.State.TotalAssets)
	assert.Equal(t, uint64(150), res.State.TotalShares)

	shares, err := e.store.Shares(context.Background(), vaultAddr, u.signer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(150), shares)
}

func TestDeposit_Preconditions(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)

	_, err := e.deposit(vaultAddr, u, 0)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = e.deposit(types.Pubkey{1}, u, 10)
	assert.ErrorIs(t, err, core.ErrVaultNotFound)

	require.NoError(t, e.l.Mutate(vaultAddr, func(s *vault.State) { s.MaxCapacity = 10 }))
	_, err = e.deposit(vaultAddr, u, 11)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	assert.Equal(t, 0, e.l.Executed(core.OpDeposit))
}

func TestDeposit_NotResubmittedAfterLostResponse(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)
	attempts := e.l.SendAttempts()

	e.l.DropNextResponses(1)
	_, err := e.deposit(vaultAddr, u, 100)
	assert.ErrorIs(t, err, core.ErrTransient)
	assert.Equal(t, attempts+1, e.l.SendAttempts(), "存款不自动重提")
	assert.Equal(t, 1, e.l.Executed(core.OpDeposit))

	// 以链上读取为准
	snap, err := e.seq.Verifier().Fetch(context.Background(), vaultAddr, consts.VaultProgram)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), snap.State.TotalAssets)
}

func TestDeposit_ConfirmationTimeout(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)

	e.l.StallConfirmations(true)
	res, err := e.deposit(vaultAddr, u, 100)
	assert.ErrorIs(t, err, core.ErrTransactionTimeout)
	assert.Equal(t, core.OpStatusFailed, res.Status)
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, 1, e.l.Executed(core.OpDeposit))
}

func TestWithdraw_InverseOfDeposit(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)

	_, err := e.deposit(vaultAddr, u, 400)
	require.NoError(t, err)
	res, err := e.withdraw(vaultAddr, u, 400)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), res.State.TotalAssets)
	assert.Equal(t, uint64(0), res.State.TotalShares)
	balance, err := e.l.TokenBalance(u.token)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), balance)
}

func TestWithdraw_InsufficientShares(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u1 := e.newUser(1_000)
	u2 := e.newUser(1_000)

	_, err := e.deposit(vaultAddr, u1, 300)
	require.NoError(t, err)

	_, err = e.withdraw(vaultAddr, u1, 301)
	assert.ErrorIs(t, err, core.ErrInsufficientShares)

	_, err = e.withdraw(vaultAddr, u2, 1)
	assert.ErrorIs(t, err, core.ErrInsufficientShares, "未存款用户不可取款")
	assert.Equal(t, 0, e.l.Executed(core.OpWithdraw))
}

func TestWithdraw_Preconditions(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(1_000)

	_, err := e.deposit(vaultAddr, u, 200)
	require.NoError(t, err)

	_, err = e.withdraw(vaultAddr, u, 0)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = e.seq.EmergencyStop(context.Background(), vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	_, err = e.withdraw(vaultAddr, u, 100)
	assert.ErrorIs(t, err, core.ErrEmergencyStopped)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	assert.Equal(t, 0, e.l.Executed(core.OpWithdraw))

	balance, err := e.l.TokenBalance(u.token)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), balance)
}

func TestEmergencyStop_Idempotent(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	ctx := context.Background()

	first, err := e.seq.EmergencyStop(ctx, vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	assert.Equal(t, core.OpStatusConfirmed, first.Status)
	assert.True(t, first.State.EmergencyStop)

	second, err := e.seq.EmergencyStop(ctx, vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	assert.Equal(t, core.OpStatusSkipped, second.Status)
	assert.True(t, second.State.EmergencyStop)
	assert.Equal(t, 1, e.l.Executed(core.OpEmergencyStop))

	u := e.newUser(100)
	_, err = e.deposit(vaultAddr, u, 10)
	assert.ErrorIs(t, err, core.ErrEmergencyStopped)
}

func TestEmergencyStop_NotAdmin(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State

	_, err := e.seq.EmergencyStop(context.Background(), vaultAddr, consts.VaultProgram, ledger.GenerateSigner())
	assert.ErrorIs(t, err, core.ErrNotAdmin)
	assert.Equal(t, 0, e.l.Executed(core.OpEmergencyStop))
}

func TestEmergencyStop_StalledConfirmationThenLanded(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State

	e.l.StallConfirmations(true)
	res, err := e.seq.EmergencyStop(context.Background(), vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err, "超时后重新读取发现已停止")
	assert.Equal(t, core.OpStatusConfirmed, res.Status)
	assert.Equal(t, 1, e.l.Executed(core.OpEmergencyStop))
}

func TestUpdateParams(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State

	lev := uint8(4)
	res, err := e.seq.UpdateParams(context.Background(), vaultAddr, consts.VaultProgram, e.admin, vault.ParamsUpdate{TargetLeverage: &lev})
	require.NoError(t, err)
	assert.Equal(t, uint8(4), res.State.TargetLeverage)
	assert.Equal(t, testParams.RebalanceThresholdBps, res.State.RebalanceThresholdBps)
	assert.Equal(t, testParams.MaxSlippageBps, res.State.MaxSlippageBps)
}

func TestUpdateParams_NotAdminLeavesStateUnchanged(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	ctx := context.Background()

	before, err := e.seq.Verifier().Fetch(ctx, vaultAddr, consts.VaultProgram)
	require.NoError(t, err)

	full := vault.FullUpdate(vault.Params{TargetLeverage: 9, RebalanceThresholdBps: 900, MaxSlippageBps: 900})
	_, err = e.seq.UpdateParams(ctx, vaultAddr, consts.VaultProgram, ledger.GenerateSigner(), full)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	assert.ErrorIs(t, err, core.ErrNotAdmin)

	after, err := e.seq.Verifier().Fetch(ctx, vaultAddr, consts.VaultProgram)
	require.NoError(t, err)
	assert.Equal(t, before.Account.Data, after.Account.Data)
}

func TestUpdateParams_Invalid(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	slippage := uint16(5_000)
	_, err := e.seq.UpdateParams(context.Background(), vaultAddr, consts.VaultProgram, e.admin, vault.ParamsUpdate{MaxSlippageBps: &slippage})
	assert.ErrorIs(t, err, core.ErrInvalidParams)
}

func TestRebalance_FailureIsNonFatal(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State

	res, err := e.seq.Rebalance(context.Background(), vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	assert.Equal(t, core.OpStatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, core.ErrTransactionRejected)
	assert.Equal(t, 2, e.l.SendAttempts(), "再平衡不重提")
}

func TestRebalance_AfterCooldown(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	*e.clock = e.clock.Add(10 * time.Minute)

	res, err := e.seq.Rebalance(context.Background(), vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	assert.Nil(t, res.Err)
	assert.Equal(t, core.OpStatusConfirmed, res.Status)
	assert.Equal(t, e.clock.Unix(), res.State.LastRebalanceTime)
}

func TestRebalance_FailedOnChainStatus(t *testing.T) {
	e := setup(t, memledger.WithSkipPreflight())
	vaultAddr := e.initialize(t).Addresses.State

	res, err := e.seq.Rebalance(context.Background(), vaultAddr, consts.VaultProgram, e.admin)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, core.ErrTransactionRejected)
	assert.NotEmpty(t, res.Signature)
}

// divergingLedger 在每笔存款后篡改状态，模拟外部程序行为与预期不符
type divergingLedger struct {
	*memledger.Ledger
	vault types.Pubkey
}

func (d *divergingLedger) SendTransaction(ctx context.Context, tx *ledger.Transaction) (string, error) {
	sig, err := d.Ledger.SendTransaction(ctx, tx)
	if err == nil && !d.vault.IsZero() {
		_ = d.Ledger.Mutate(d.vault, func(s *vault.State) { s.TotalShares++ })
	}
	return sig, err
}

func TestDeposit_StateMismatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mem := memledger.New(consts.VaultProgram, memledger.WithClock(func() time.Time { return now }))
	dl := &divergingLedger{Ledger: mem}
	e := newEnv(t, dl, mem, &now)

	vaultAddr := e.initialize(t).Addresses.State
	dl.vault = vaultAddr

	u := e.newUser(1_000)
	_, err := e.deposit(vaultAddr, u, 100)
	require.ErrorIs(t, err, core.ErrStateMismatch)

	var mismatch *core.StateMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "total_shares", mismatch.Discrepancies[0].Field)

	shares, err := e.store.Shares(context.Background(), vaultAddr, u.signer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), shares, "校验失败不记入份额簿")
}

func TestDeposit_ConcurrentSameVault(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State

	const n = 8
	users := make([]user, n)
	for i := range users {
		users[i] = e.newUser(1_000)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.deposit(vaultAddr, users[i], uint64(10*(i+1)))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	snap, err := e.seq.Verifier().Fetch(context.Background(), vaultAddr, consts.VaultProgram)
	require.NoError(t, err)
	assert.Equal(t, uint64(10*n*(n+1)/2), snap.State.TotalAssets)
}

func TestCanceledBeforeSubmit(t *testing.T) {
	e := setup(t)
	vaultAddr := e.initialize(t).Addresses.State
	u := e.newUser(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.seq.Deposit(ctx, TransferRequest{
		Vault: vaultAddr, ProgramID: consts.VaultProgram, User: u.signer, UserToken: u.token, Amount: 10,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.l.Executed(core.OpDeposit))
}
