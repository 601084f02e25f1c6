// Package retry 提交重试与确认轮询使用的退避策略。
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts    int           // 单个操作最多提交次数（含首次）
	InitialBackoff time.Duration // 首次退避
	MaxBackoff     time.Duration // 退避上限
	ConfirmTimeout time.Duration // 单次提交等待确认的最长时间
	PollInterval   time.Duration // 确认轮询起始间隔
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff <= 0 || p.PollInterval <= 0 {
		return fmt.Errorf("initial backoff and poll interval must be positive")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff %s less than initial backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	if p.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	return nil
}

// Backoff 指数退避，每次等待后翻倍，不超过上限
type Backoff struct {
	current time.Duration
	maximum time.Duration
}

func NewBackoff(initial, maximum time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if maximum < initial {
		maximum = initial
	}
	return &Backoff{current: initial, maximum: maximum}
}

// Wait 等待当前间隔；ctx 结束时提前返回其错误
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.current)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	b.current *= 2
	if b.current > b.maximum {
		b.current = b.maximum
	}
	return nil
}

// Timeout 下一次 Wait 的等待时长
func (b *Backoff) Timeout() time.Duration {
	return b.current
}
