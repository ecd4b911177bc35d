package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// TokenBucket 令牌桶速率限制器
// 桶容量即突发上限，refillPerSec 决定平均速率
type TokenBucket struct {
	mu           sync.Mutex
	capacity     float64
	tokens       float64
	refillPerSec float64
	lastRefill   time.Time
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity int, refillPerSec int) *TokenBucket {
	return &TokenBucket{
		capacity:     float64(capacity),
		tokens:       float64(capacity),
		refillPerSec: float64(refillPerSec),
		lastRefill:   time.Now(),
	}
}

// refill 按流逝时间补充令牌，调用方需持有锁
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillPerSec
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 检查是否允许请求（非阻塞）
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到允许请求或 ctx 取消
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		// 估算下一个令牌的到达时间
		tb.mu.Lock()
		var wait time.Duration
		if tb.refillPerSec > 0 {
			missing := 1 - tb.tokens
			wait = time.Duration(missing / tb.refillPerSec * float64(time.Second))
		} else {
			wait = 100 * time.Millisecond
		}
		tb.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
