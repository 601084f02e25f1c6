package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/address"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/logic/ledger/memledger"
	"vault-orchestrator-sol/internal/types"
	"vault-orchestrator-sol/internal/vault"
)

var testParams = vault.Params{TargetLeverage: 2, RebalanceThresholdBps: 500, MaxSlippageBps: 100}

func setup(t *testing.T) (*memledger.Ledger, *ledger.KeypairSigner, address.Addresses) {
	t.Helper()
	l := memledger.New(consts.VaultProgram)
	admin := ledger.GenerateSigner()
	addrs, err := address.NewDeriver(l).Derive(address.VaultIdentity{Owner: admin.PublicKey(), ProgramID: consts.VaultProgram})
	require.NoError(t, err)

	ix, err := vault.InitializeInstruction(consts.VaultProgram, addrs.State, addrs.Token, admin.PublicKey(), consts.USDCMint, testParams)
	require.NoError(t, err)
	_, err = l.SendTransaction(context.Background(), &ledger.Transaction{FeePayer: admin, Instructions: []ledger.Instruction{ix}})
	require.NoError(t, err)
	return l, admin, addrs
}

func TestVerify_Match(t *testing.T) {
	l, admin, addrs := setup(t)
	v := New(l)

	adminKey := admin.PublicKey()
	zero := uint64(0)
	stopped := false
	s, err := v.Verify(context.Background(), addrs.State, consts.VaultProgram, Expect{
		Admin:         &adminKey,
		Params:        &testParams,
		TotalAssets:   &zero,
		TotalShares:   &zero,
		EmergencyStop: &stopped,
	})
	require.NoError(t, err)
	assert.Equal(t, adminKey, s.Admin)
}

func TestVerify_Mismatch(t *testing.T) {
	l, _, addrs := setup(t)
	require.NoError(t, l.Mutate(addrs.State, func(s *vault.State) {
		s.TotalAssets = 42
		s.EmergencyStop = true
	}))

	zero := uint64(0)
	stopped := false
	_, err := New(l).Verify(context.Background(), addrs.State, consts.VaultProgram, Expect{
		TotalAssets:   &zero,
		EmergencyStop: &stopped,
	})
	require.ErrorIs(t, err, core.ErrStateMismatch)

	var mismatch *core.StateMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Len(t, mismatch.Discrepancies, 2)
	assert.Equal(t, "total_assets", mismatch.Discrepancies[0].Field)
	assert.Equal(t, uint64(0), mismatch.Discrepancies[0].Expected)
	assert.Equal(t, uint64(42), mismatch.Discrepancies[0].Observed)
	assert.Equal(t, "emergency_stop", mismatch.Discrepancies[1].Field)
}

func TestVerify_Custom(t *testing.T) {
	l, _, addrs := setup(t)
	_, err := New(l).Verify(context.Background(), addrs.State, consts.VaultProgram, Expect{
		Custom: func(s *vault.State) []core.Discrepancy {
			return []core.Discrepancy{{Field: "always", Expected: 1, Observed: 2}}
		},
	})
	assert.ErrorIs(t, err, core.ErrStateMismatch)
}

func TestFetch_NotFound(t *testing.T) {
	l := memledger.New(consts.VaultProgram)
	_, err := New(l).Fetch(context.Background(), types.Pubkey{9}, consts.VaultProgram)
	assert.ErrorIs(t, err, core.ErrVaultNotFound)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
}

func TestFetch_WrongOwner(t *testing.T) {
	l, _, addrs := setup(t)
	_, err := New(l).Fetch(context.Background(), addrs.State, consts.DriftProgram)
	assert.ErrorIs(t, err, core.ErrStateMismatch)
}

func TestFetch_CorruptData(t *testing.T) {
	l := memledger.New(consts.VaultProgram)
	addr := types.Pubkey{7}
	l.SetAccount(ledger.Account{Address: addr, Owner: consts.VaultProgram, Data: []byte{1, 2, 3}})
	_, err := New(l).Fetch(context.Background(), addr, consts.VaultProgram)
	assert.ErrorIs(t, err, core.ErrStateMismatch)
}

func TestVerifyToken(t *testing.T) {
	l, _, addrs := setup(t)
	v := New(l)

	snap, err := v.VerifyToken(context.Background(), addrs.Token, consts.USDCMint, addrs.State)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Amount)

	_, err = v.VerifyToken(context.Background(), addrs.Token, consts.SystemProgram, addrs.State)
	assert.ErrorIs(t, err, core.ErrStateMismatch)

	_, err = v.FetchToken(context.Background(), addrs.State)
	assert.ErrorIs(t, err, core.ErrStateMismatch, "状态账户不归 token 程序所有")
}
