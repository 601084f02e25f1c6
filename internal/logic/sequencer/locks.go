package sequencer

import (
	"context"
	"sync"

	"vault-orchestrator-sol/internal/types"
)

// vaultLocks 按金库地址串行化操作；不同金库互不阻塞
type vaultLocks struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*vaultLock
}

type vaultLock struct {
	ch   chan struct{}
	refs int
}

func newVaultLocks() *vaultLocks {
	return &vaultLocks{locks: make(map[types.Pubkey]*vaultLock)}
}

// acquire 获取 key 的锁，ctx 结束时放弃等待
func (v *vaultLocks) acquire(ctx context.Context, key types.Pubkey) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	l, ok := v.locks[key]
	if !ok {
		l = &vaultLock{ch: make(chan struct{}, 1)}
		v.locks[key] = l
	}
	l.refs++
	v.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			v.release(key, l)
		}, nil
	case <-ctx.Done():
		v.release(key, l)
		return nil, ctx.Err()
	}
}

func (v *vaultLocks) release(key types.Pubkey, l *vaultLock) {
	v.mu.Lock()
	defer v.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(v.locks, key)
	}
}
