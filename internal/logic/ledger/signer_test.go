package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/types"
)

func writeKeypair(t *testing.T, path string, account sdktypes.Account) {
	t.Helper()
	ints := make([]int, len(account.PrivateKey))
	for i, b := range account.PrivateKey {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, raw, 0o600))
}

func TestLoadKeypairFile(t *testing.T) {
	account := sdktypes.NewAccount()
	path := filepath.Join(t.TempDir(), "id.json")
	writeKeypair(t, path, account)

	signer, err := LoadKeypairFile(path)
	require.NoError(t, err)
	assert.Equal(t, types.PubkeyFromCommon(account.PublicKey), signer.PublicKey())
}

func TestLoadKeypairFile_HomeRelative(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	account := sdktypes.NewAccount()
	writeKeypair(t, filepath.Join(home, ".config", "solana", "id.json"), account)

	signer, err := LoadKeypairFile("~/.config/solana/id.json")
	require.NoError(t, err)
	assert.Equal(t, types.PubkeyFromCommon(account.PublicKey), signer.PublicKey())
}

func TestLoadKeypairFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadKeypairFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("[1,2,300]"), 0o600))
	_, err = LoadKeypairFile(bad)
	assert.Error(t, err)
}
