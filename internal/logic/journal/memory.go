package journal

import (
	"context"
	"sync"

	"vault-orchestrator-sol/internal/logic/core"
	"vault-orchestrator-sol/internal/types"
)

type positionKey struct {
	vault types.Pubkey
	user  types.Pubkey
}

// MemoryStore 进程内存储，未配置 Redis 时使用
type MemoryStore struct {
	mu     sync.Mutex
	ops    map[string]OpRecord
	order  []string
	shares map[positionKey]int64
	plans  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:    make(map[string]OpRecord),
		shares: make(map[positionKey]int64),
		plans:  make(map[string][]byte),
	}
}

func (m *MemoryStore) Record(_ context.Context, rec *OpRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.ops[rec.ID] = *rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*OpRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) GetStatus(_ context.Context, id string) (core.OpStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[id]
	if !ok {
		return core.OpStatusUnknown, nil
	}
	return rec.Status, nil
}

// Ops 按首次记录顺序返回全部操作
func (m *MemoryStore) Ops() []OpRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.ops[id])
	}
	return out
}

func (m *MemoryStore) AddShares(_ context.Context, vault, user types.Pubkey, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := positionKey{vault: vault, user: user}
	m.shares[k] += delta
	return m.shares[k], nil
}

func (m *MemoryStore) Shares(_ context.Context, vault, user types.Pubkey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.shares[positionKey{vault: vault, user: user}]
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

func (m *MemoryStore) SavePlan(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[id] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) LoadPlan(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
