package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/journal"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/ledger/memledger"
	"vault-orchestrator-sol/internal/logic/retry"
	"vault-orchestrator-sol/internal/logic/sequencer"
	"vault-orchestrator-sol/internal/vault"
)

var params = vault.Params{TargetLeverage: 2, RebalanceThresholdBps: 500, MaxSlippageBps: 100}

func newRunner(t *testing.T, now *time.Time) (*Runner, *memledger.Ledger) {
	t.Helper()
	l := memledger.New(consts.VaultProgram, memledger.WithClock(func() time.Time { return *now }))
	seq, err := sequencer.New(l, journal.NewMemoryStore(), nil, retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	return NewRunner(seq), l
}

func participant(l *memledger.Ledger, name string, balance uint64) *Participant {
	s := ledger.GenerateSigner()
	return &Participant{Name: name, Signer: s, Token: l.CreateTokenAccount(s.PublicKey(), consts.USDCMint, balance)}
}

func TestRun_DefaultScenario(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, l := newRunner(t, &now)
	u1, u2 := participant(l, "u1", 1_000), participant(l, "u2", 1_000)
	sc, err := DefaultScenario(consts.VaultProgram, consts.USDCMint, params, u1, u2)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), ledger.GenerateSigner(), sc)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), report.Final.TotalAssets)
	assert.Equal(t, uint64(150), report.Final.TotalShares)
	// 刚初始化处于冷却期，再平衡失败但不影响结果
	assert.ErrorIs(t, report.RebalanceErr, core.ErrTransactionRejected)
	assert.Equal(t, 0, l.Executed(core.OpRebalance))

	b1, err := l.TokenBalance(u1.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), b1)
	vaultBalance, err := l.TokenBalance(report.Addresses.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), vaultBalance)
}

func TestRun_WithdrawUpdateHalt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, l := newRunner(t, &now)
	u1, u2 := participant(l, "u1", 500), participant(l, "u2", 500)
	leverage := uint8(5)
	report, err := r.Run(context.Background(), ledger.GenerateSigner(), Scenario{
		ProgramID:   consts.VaultProgram,
		Mint:        consts.USDCMint,
		Params:      params,
		Deposits:    []Transfer{{User: u1, Amount: 300}, {User: u2, Amount: 200}, {User: u1, Amount: 20}},
		Withdrawals: []Transfer{{User: u2, Amount: 120}},
		Update:      &vault.ParamsUpdate{TargetLeverage: &leverage},
		Halt:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(520), report.Deposited)
	assert.Equal(t, uint64(120), report.Withdrawn)
	assert.Equal(t, uint64(400), report.Final.TotalAssets)
	assert.Equal(t, uint8(5), report.Final.TargetLeverage)
	assert.Equal(t, params.MaxSlippageBps, report.Final.MaxSlippageBps)
	assert.True(t, report.Final.EmergencyStop)
	assert.Len(t, report.Ops, 7)
}

func TestRun_DepositFailureSurfaces(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, l := newRunner(t, &now)
	u1, u2 := participant(l, "u1", 1_000), participant(l, "u2", 10)
	sc, err := DefaultScenario(consts.VaultProgram, consts.USDCMint, params, u1, u2)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), ledger.GenerateSigner(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransactionRejected)
	assert.Contains(t, err.Error(), "deposit u2 50")
}

func TestDefaultScenario_RequiresParticipants(t *testing.T) {
	_, err := DefaultScenario(consts.VaultProgram, consts.USDCMint, params, nil, nil)
	assert.Error(t, err)
}
