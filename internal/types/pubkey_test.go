package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkey_Base58RoundTrip(t *testing.T) {
	const s = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	p := PubkeyFromBase58(s)
	assert.Equal(t, s, p.String())
	assert.Equal(t, s, p.ToCommon().ToBase58())
	assert.Equal(t, p, PubkeyFromCommon(p.ToCommon()))
}

func TestTryPubkeyFromBase58_Invalid(t *testing.T) {
	_, err := TryPubkeyFromBase58("abc")
	assert.Error(t, err)

	_, err = TryPubkeyFromBase58("0OIl")
	assert.Error(t, err)
}

func TestPubkey_JSON(t *testing.T) {
	type wrapper struct {
		Key Pubkey `json:"key"`
	}
	in := wrapper{Key: PubkeyFromBase58("11111111111111111111111111111111")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"11111111111111111111111111111111"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
	assert.True(t, out.Key.IsZero())
}
