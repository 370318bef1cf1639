package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter 按客户端键划分的令牌桶限制器
type TokenBucketLimiter struct {
	limit   rate.Limit
	burst   int
	mutex   sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewTokenBucketLimiter 创建令牌桶限制器，每秒 rps 个请求，突发容量为 burst
func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow 检查是否允许请求
func (tbl *TokenBucketLimiter) Allow(key string) bool {
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()

	now := tbl.now()
	b, exists := tbl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(tbl.limit, tbl.burst)}
		tbl.buckets[key] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// Reset 重置限制器
func (tbl *TokenBucketLimiter) Reset(key string) {
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()
	delete(tbl.buckets, key)
}

// Cleanup 清理超过 olderThan 未访问的令牌桶，返回清理数量
func (tbl *TokenBucketLimiter) Cleanup(olderThan time.Duration) int {
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()

	cutoff := tbl.now().Add(-olderThan)
	removed := 0
	for key, b := range tbl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tbl.buckets, key)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的客户端数量
func (tbl *TokenBucketLimiter) Len() int {
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()
	return len(tbl.buckets)
}
