package address

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/logic/ledger"
	"vault-orchestrator-sol/internal/types"
)

func TestDerive_Deterministic(t *testing.T) {
	d := NewDeriver(nil)
	id := VaultIdentity{Owner: ledger.GenerateSigner().PublicKey(), ProgramID: consts.VaultProgram}

	first, err := d.Derive(id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := NewDeriver(nil).Derive(id)
		require.NoError(t, err)
		assert.Equal(t, first, again, "相同输入必须得到相同地址")
	}
	assert.NotEqual(t, first.State, first.Token)
}

func TestDerive_ChainedFromState(t *testing.T) {
	d := NewDeriver(nil)
	id := VaultIdentity{Owner: ledger.GenerateSigner().PublicKey(), ProgramID: consts.VaultProgram}
	addrs, err := d.Derive(id)
	require.NoError(t, err)

	state, bump, err := ledger.FindProgramAddress([][]byte{[]byte("vault"), id.Owner.Bytes()}, id.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, state, addrs.State)
	assert.Equal(t, bump, addrs.StateBump)

	token, _, err := ledger.FindProgramAddress([][]byte{[]byte("vault_token_account"), state.Bytes()}, id.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, token, addrs.Token)
}

func TestDerive_DistinctInputs(t *testing.T) {
	d := NewDeriver(nil)
	owner := ledger.GenerateSigner().PublicKey()

	a, err := d.Derive(VaultIdentity{Owner: owner, ProgramID: consts.VaultProgram})
	require.NoError(t, err)
	b, err := d.Derive(VaultIdentity{Owner: owner, ProgramID: consts.DriftProgram})
	require.NoError(t, err)
	c, err := d.Derive(VaultIdentity{Owner: ledger.GenerateSigner().PublicKey(), ProgramID: consts.VaultProgram})
	require.NoError(t, err)

	assert.NotEqual(t, a.State, b.State, "不同程序")
	assert.NotEqual(t, a.State, c.State, "不同管理员")
}

func TestDerive_Exhausted(t *testing.T) {
	failing := finderFunc(func([][]byte, types.Pubkey) (types.Pubkey, uint8, error) {
		return types.Pubkey{}, 0, errors.New("unable to find a valid program address")
	})
	_, err := NewDeriver(failing).Derive(VaultIdentity{ProgramID: consts.VaultProgram})
	assert.ErrorIs(t, err, core.ErrDerivationExhausted)
}
