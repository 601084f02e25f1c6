package cache

import (
	"sort"
	"sync"

	"vault-orchestrator-sol/internal/types"
)

// VaultPoint 某一时刻观测到的金库状态
type VaultPoint struct {
	Timestamp     int64
	TotalAssets   uint64
	TotalShares   uint64
	SharePrice    uint64 // 精度 consts.SharePricePrecision
	EmergencyStop bool
}

// VaultCache 按金库保存观测历史，时间升序
type VaultCache struct {
	mu      sync.RWMutex
	history map[types.Pubkey][]VaultPoint
}

func NewVaultCache() *VaultCache {
	return &VaultCache{
		history: make(map[types.Pubkey][]VaultPoint),
	}
}

const (
	maxCapacity = 400
	retainCount = 300
)

// Insert 插入观测点；相同时间戳的点保留先到的
func (vc *VaultCache) Insert(vault types.Pubkey, point VaultPoint) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	points, ok := vc.history[vault]
	if !ok {
		points = make([]VaultPoint, 0, maxCapacity)
		vc.history[vault] = append(points, point)
		return
	}

	if len(points) >= maxCapacity {
		// 保留最新的 retainCount 个点
		copy(points[:retainCount], points[len(points)-retainCount:])
		points = points[:retainCount]
	}

	last := points[len(points)-1]
	switch {
	case point.Timestamp == last.Timestamp:
	case point.Timestamp > last.Timestamp:
		points = append(points, point)
	default:
		idx := sort.Search(len(points), func(i int) bool {
			return points[i].Timestamp >= point.Timestamp
		})
		if points[idx].Timestamp != point.Timestamp {
			points = append(points, VaultPoint{})
			copy(points[idx+1:], points[idx:])
			points[idx] = point
		}
	}
	vc.history[vault] = points
}

// Latest 最近一次观测
func (vc *VaultCache) Latest(vault types.Pubkey) (VaultPoint, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	points := vc.history[vault]
	if len(points) == 0 {
		return VaultPoint{}, false
	}
	return points[len(points)-1], true
}

// At 返回 ts 时刻有效的观测点（不晚于 ts 的最新点；早于全部历史时返回最老的点）
func (vc *VaultCache) At(vault types.Pubkey, ts int64) (VaultPoint, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	points := vc.history[vault]
	count := len(points)
	if count == 0 {
		return VaultPoint{}, false
	}
	if ts >= points[count-1].Timestamp {
		return points[count-1], true
	}
	if ts < points[0].Timestamp {
		return points[0], true
	}
	idx := sort.Search(count, func(i int) bool {
		return points[i].Timestamp >= ts
	})
	if points[idx].Timestamp == ts {
		return points[idx], true
	}
	return points[idx-1], true
}
