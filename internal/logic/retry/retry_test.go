package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffWait(t *testing.T) {
	backoff := NewBackoff(time.Millisecond, 10*time.Second)
	for i := 0; i < 6; i++ {
		require.NoError(t, backoff.Wait(context.Background()))
	}
	require.Equal(t, 64*time.Millisecond, backoff.Timeout())
}

func TestBackoffMaximum(t *testing.T) {
	backoff := NewBackoff(time.Millisecond, 4*time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, backoff.Wait(context.Background()))
	}
	require.Equal(t, 4*time.Millisecond, backoff.Timeout())
}

func TestBackoffWait_Canceled(t *testing.T) {
	backoff := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, backoff.Wait(ctx), context.Canceled)
	require.Equal(t, time.Hour, backoff.Timeout(), "取消时不推进")
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxAttempts = 0
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxBackoff = time.Millisecond
	require.Error(t, p.Validate())

	p = DefaultPolicy()
	p.ConfirmTimeout = 0
	require.Error(t, p.Validate())
}
