package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"vault-orchestrator-sol/internal/cache"
	"vault-orchestrator-sol/internal/logic/verifier"
	"vault-orchestrator-sol/internal/pkg/logger"
	"vault-orchestrator-sol/internal/types"
)

const (
	fetchTimeout = 5 * time.Second
	// 与一个窗口之前的观测点比较份额价格
	trendWindow = time.Hour
	// 份额价格在窗口内下跌超过该值时告警
	priceDropWarnBps = 100
)

// VaultWatchService 定时读取金库状态写入缓存，发现紧急停止或读取失败时告警
type VaultWatchService struct {
	cache     *cache.VaultCache
	verifier  *verifier.Verifier
	programID types.Pubkey
	vaults    []types.Pubkey
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	ctx       context.Context
	cancel    func(err error)
}

func NewVaultWatchService(v *verifier.Verifier, vc *cache.VaultCache, programID types.Pubkey, vaults []types.Pubkey, interval time.Duration) (*VaultWatchService, error) {
	if len(vaults) == 0 {
		return nil, errors.New("no vault to watch")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid watch interval %v", interval)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &VaultWatchService{
		cache:     vc,
		verifier:  v,
		programID: programID,
		vaults:    vaults,
		interval:  interval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	// 首次同步失败不阻止启动，后续周期会重试
	if err := s.update(); err != nil {
		logger.Warnf("[VaultWatchService] 初始同步失败: %v", err)
	}
	return s, nil
}

func (s *VaultWatchService) Start() {
	s.scheduleNext()
	<-s.stopChan
}

func (s *VaultWatchService) scheduleNext() {
	time.AfterFunc(s.interval, func() {
		if err := s.update(); err != nil {
			logger.Warnf("[VaultWatchService] 周期性更新失败: %v", err)
		}
		select {
		case <-s.ctx.Done():
			return
		default:
			s.scheduleNext()
		}
	})
}

func (s *VaultWatchService) Stop() {
	s.stopOnce.Do(func() {
		s.cancel(errors.New("VaultWatchService stop"))
		close(s.stopChan)
	})
}

// update 逐个金库读取；单个失败不影响其它金库，返回最后一个错误
func (s *VaultWatchService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[VaultWatchService] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	var lastErr error
	for _, vault := range s.vaults {
		if err := s.observe(vault); err != nil {
			logger.Warnf("[VaultWatchService] 读取金库失败: vault=%s err=%v", vault, err)
			lastErr = err
		}
	}
	return lastErr
}

func (s *VaultWatchService) observe(vault types.Pubkey) error {
	ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
	defer cancel()

	snap, err := s.verifier.Fetch(ctx, vault, s.programID)
	if err != nil {
		return err
	}
	state := snap.State
	point := cache.VaultPoint{
		Timestamp:     s.now().Unix(),
		TotalAssets:   state.TotalAssets,
		TotalShares:   state.TotalShares,
		SharePrice:    state.SharePrice(),
		EmergencyStop: state.EmergencyStop,
	}

	prev, seen := s.cache.Latest(vault)
	s.cache.Insert(vault, point)
	if point.EmergencyStop && (!seen || !prev.EmergencyStop) {
		logger.Warnf("[VaultWatchService] 金库处于紧急停止状态: vault=%s", vault)
	}
	logger.Infof("[VaultWatchService] vault=%s total_assets=%d total_shares=%d share_price=%d",
		vault, point.TotalAssets, point.TotalShares, point.SharePrice)

	base, ok := s.cache.At(vault, point.Timestamp-int64(trendWindow/time.Second))
	if !ok {
		return nil
	}
	if bps, ok := sharePriceChangeBps(base, point); ok {
		if bps <= -priceDropWarnBps {
			logger.Warnf("[VaultWatchService] 份额价格下跌: vault=%s change_bps=%d since=%d total_assets=%d->%d",
				vault, bps, base.Timestamp, base.TotalAssets, point.TotalAssets)
		} else {
			logger.Debugf("[VaultWatchService] 份额价格变化: vault=%s change_bps=%d since=%d", vault, bps, base.Timestamp)
		}
	}
	return nil
}

// sharePriceChangeBps cur 相对 base 的份额价格变化（bps）；base 不早于 cur 或价格为 0 时无意义
func sharePriceChangeBps(base, cur cache.VaultPoint) (int64, bool) {
	if base.Timestamp >= cur.Timestamp || base.SharePrice == 0 {
		return 0, false
	}
	diff := int64(cur.SharePrice) - int64(base.SharePrice)
	return diff * 10_000 / int64(base.SharePrice), true
}
