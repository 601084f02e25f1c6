package svc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/config"
	"vault-orchestrator-sol/internal/consts"
	"vault-orchestrator-sol/internal/logic/sequencer"
)

func simulateConfig(t *testing.T) config.Config {
	return config.Config{
		Vault: config.VaultConfig{
			TargetLeverage: 2, RebalanceThresholdBps: 500, MaxSlippageBps: 100, Mint: consts.USDCMintStr,
		},
		Programs: config.ProgramsConfig{Vault: consts.VaultProgramStr},
		Retry: config.RetryConfig{
			MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 2, ConfirmTimeoutS: 1, PollIntervalMs: 1,
		},
		BackupDir: t.TempDir(),
	}
}

func TestNewServiceContext_Simulate(t *testing.T) {
	s, err := NewServiceContext(simulateConfig(t), true)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Sim)
	assert.Nil(t, s.Publisher)
	assert.Nil(t, s.Redis)

	res, err := s.Sequencer.Initialize(context.Background(), sequencer.InitializeRequest{
		Admin: s.Admin, Params: s.Config.Vault.Params(), Mint: s.Config.Mint(), ProgramID: s.Config.VaultProgram(),
	})
	require.NoError(t, err)
	assert.False(t, res.Addresses.State.IsZero())
}

func TestNewServiceContext_InvalidConfig(t *testing.T) {
	c := simulateConfig(t)
	_, err := NewServiceContext(c, false)
	assert.ErrorContains(t, err, "rpc.endpoint")
}
