package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/conf"

	"vault-orchestrator-sol/internal/consts"
)

const sample = `
logger:
  level: debug
rpc:
  endpoint: http://127.0.0.1:8899
keys:
  admin: /tmp/admin.json
vault:
  target_leverage: 3
programs:
  vault: Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS
retry:
  max_attempts: 5
`

func load(t *testing.T, content string) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	var c Config
	require.NoError(t, conf.Load(path, &c))
	return c
}

func TestLoad_Defaults(t *testing.T) {
	c := load(t, sample)
	require.NoError(t, c.Validate(false))

	assert.Equal(t, "console", c.LogConf.Format)
	assert.Equal(t, uint8(3), c.Vault.TargetLeverage)
	assert.Equal(t, uint16(500), c.Vault.RebalanceThresholdBps)
	assert.Equal(t, consts.USDCMint, c.Mint())
	assert.Equal(t, consts.VaultProgram, c.VaultProgram())
	assert.Equal(t, 5, c.Retry.Policy().MaxAttempts)
	assert.Equal(t, "backups", c.BackupDir)
	assert.True(t, c.DriftAccounts().User.IsZero())
}

func TestValidate(t *testing.T) {
	c := load(t, sample)

	bad := c
	bad.Rpc.Endpoint = ""
	assert.Error(t, bad.Validate(false))
	assert.NoError(t, bad.Validate(true))

	bad = c
	bad.Vault.TargetLeverage = 11
	assert.ErrorContains(t, bad.Validate(true), "vault")

	bad = c
	bad.Migration.SourceVault = "not-a-key"
	assert.ErrorContains(t, bad.Validate(true), "migration.source_vault")

	bad = c
	bad.Smoke.UserKeypairs = []string{"a.json"}
	assert.ErrorContains(t, bad.Validate(true), "smoke")

	bad = c
	bad.Retry.MaxAttempts = 0
	assert.ErrorContains(t, bad.Validate(true), "retry")
}
