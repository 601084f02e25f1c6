package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-orchestrator-sol/internal/types"
)

var testVault = types.Pubkey{1}

func TestVaultCache_OrderedInsert(t *testing.T) {
	vc := NewVaultCache()
	for _, ts := range []int64{10, 30, 20, 30, 5} {
		vc.Insert(testVault, VaultPoint{Timestamp: ts, TotalAssets: uint64(ts)})
	}
	assert.Len(t, vc.history[testVault], 4)

	latest, ok := vc.Latest(testVault)
	require.True(t, ok)
	assert.Equal(t, int64(30), latest.Timestamp)

	p, ok := vc.At(testVault, 25)
	require.True(t, ok)
	assert.Equal(t, int64(20), p.Timestamp)

	p, _ = vc.At(testVault, 20)
	assert.Equal(t, uint64(20), p.TotalAssets)
	p, _ = vc.At(testVault, 1)
	assert.Equal(t, int64(5), p.Timestamp)
	p, _ = vc.At(testVault, 100)
	assert.Equal(t, int64(30), p.Timestamp)
}

func TestVaultCache_Trim(t *testing.T) {
	vc := NewVaultCache()
	for i := 0; i < maxCapacity+1; i++ {
		vc.Insert(testVault, VaultPoint{Timestamp: int64(i)})
	}
	assert.Len(t, vc.history[testVault], retainCount+1)
	p, _ := vc.At(testVault, 0)
	assert.Equal(t, int64(maxCapacity-retainCount), p.Timestamp)
}

func TestVaultCache_Unknown(t *testing.T) {
	vc := NewVaultCache()
	_, ok := vc.Latest(testVault)
	assert.False(t, ok)
	_, ok = vc.At(testVault, 1)
	assert.False(t, ok)
}
