package cache

import (
	"sync"
	"time"
)

// TTLCache 带过期时间的内存缓存
// 读路径惰性判断过期，后台 janitor 定期回收
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]entry[V]
	defaultTTL time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New 创建缓存，janitorInterval <= 0 时不启动后台回收
func New[K comparable, V any](defaultTTL, janitorInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:      make(map[K]entry[V]),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
	if janitorInterval > 0 {
		go c.janitor(janitorInterval)
	}
	return c
}

// Get 获取缓存值，过期视为不存在
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set 写入缓存值，ttl 为 0 时使用默认 TTL
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrSet 命中直接返回，未命中时调用 fill 并写入
// fill 返回错误时不缓存
func (c *TTLCache[K, V]) GetOrSet(key K, fill func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill()
	if err != nil {
		return v, err
	}
	c.Set(key, v, 0)
	return v, nil
}

// Delete 删除缓存项
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len 当前缓存项数量（含未回收的过期项）
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stop 停止后台回收 goroutine
func (c *TTLCache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *TTLCache[K, V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
