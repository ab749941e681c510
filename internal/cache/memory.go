package cache

import (
	"sync"
	"time"
)

// entry 保存缓存值与捕获时间，过期判断全部基于 capturedAt。
type entry struct {
	value      any
	capturedAt time.Time
}

// Memory 是按分区组织的进程内 TTL 缓存。读取方自带鉴权状态，
// 同一条目对已登录用户可能已过期、对匿名用户仍然有效。
type Memory struct {
	mu      sync.RWMutex
	buckets map[Bucket]map[string]entry
	policy  Policy
	metrics *Metrics
	now     func() time.Time
}

// NewMemory 构建空缓存。metrics 可为 nil，此时不做计数。
func NewMemory(policy Policy, metrics *Metrics) *Memory {
	buckets := make(map[Bucket]map[string]entry, len(Buckets()))
	for _, bucket := range Buckets() {
		buckets[bucket] = make(map[string]entry)
	}
	return &Memory{
		buckets: buckets,
		policy:  policy,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get 按鉴权状态对应的 TTL 读取条目。过期条目就地删除并按 miss 计数。
// TTL 为零或负值时视为该读取方式不允许缓存，直接返回 miss。
func (m *Memory) Get(bucket Bucket, key string, authenticated bool) (any, bool) {
	return m.GetWithTTL(bucket, key, m.policy.Profile(bucket).For(authenticated))
}

// GetWithTTL 按显式 TTL 读取条目，供 wiki 级 TTL 覆盖使用。
// 调用方必须保证 ttl 不超过分区的保守淘汰界限，否则条目可能被清扫器提前移除。
func (m *Memory) GetWithTTL(bucket Bucket, key string, ttl time.Duration) (any, bool) {
	if ttl <= 0 {
		m.metrics.Miss(bucket)
		return nil, false
	}

	m.mu.RLock()
	item, ok := m.buckets[bucket][key]
	m.mu.RUnlock()

	if !ok {
		m.metrics.Miss(bucket)
		return nil, false
	}

	if m.now().Sub(item.capturedAt) >= ttl {
		m.mu.Lock()
		// 重新确认仍是同一条目，避免删除并发写入的新值。
		if current, exists := m.buckets[bucket][key]; exists && current.capturedAt.Equal(item.capturedAt) {
			delete(m.buckets[bucket], key)
		}
		m.mu.Unlock()
		m.metrics.Miss(bucket)
		return nil, false
	}

	m.metrics.Hit(bucket)
	return item.value, true
}

// Put 写入条目并记录当前时间为捕获时间。
func (m *Memory) Put(bucket Bucket, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.buckets[bucket]
	if !ok {
		store = make(map[string]entry)
		m.buckets[bucket] = store
	}
	store[key] = entry{value: value, capturedAt: m.now()}
}

// Delete 删除单个条目，条目不存在时为空操作。
func (m *Memory) Delete(bucket Bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[bucket], key)
}

// PurgeBucket 清空整个分区，返回删除的条目数。
func (m *Memory) PurgeBucket(bucket Bucket) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.buckets[bucket])
	if removed > 0 {
		m.buckets[bucket] = make(map[string]entry)
	}
	return removed
}

// PurgeSegment 删除分区内键段等于 segment 的所有条目，返回删除数。
// 用户名改名时按旧登录名调用，精确到段避免误伤前缀相同的键。
func (m *Memory) PurgeSegment(bucket Bucket, segment string) int {
	if segment == "" {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	store := m.buckets[bucket]
	removed := 0
	for key := range store {
		for _, part := range keySegments(key) {
			if part == segment {
				delete(store, key)
				removed++
				break
			}
		}
	}
	return removed
}

// Len 返回分区内条目数（含尚未被清扫的过期条目）。
func (m *Memory) Len(bucket Bucket) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets[bucket])
}

// sweep 删除所有超过分区最大 TTL 的条目，返回淘汰数。仅供清扫器调用。
func (m *Memory) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for bucket, store := range m.buckets {
		max := m.policy.Profile(bucket).Max()
		if max <= 0 {
			// 没有任何读取方式会命中该分区，直接整桶清空。
			if len(store) > 0 {
				m.metrics.Evictions(bucket, len(store))
				evicted += len(store)
				m.buckets[bucket] = make(map[string]entry)
			}
			continue
		}
		removed := 0
		for key, item := range store {
			if now.Sub(item.capturedAt) >= max {
				delete(store, key)
				removed++
			}
		}
		if removed > 0 {
			m.metrics.Evictions(bucket, removed)
			evicted += removed
		}
	}
	return evicted
}

// BucketSnapshot 描述单个分区的即时状态，供 /-/cache 输出。
type BucketSnapshot struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	AuthTTL string `json:"auth_ttl"`
	AnonTTL string `json:"anon_ttl"`
}

// Snapshot 汇总所有分区的条目数、命中统计与 TTL 配置。
func (m *Memory) Snapshot() map[Bucket]BucketSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[Bucket]BucketSnapshot, len(m.buckets))
	for _, bucket := range Buckets() {
		profile := m.policy.Profile(bucket)
		hits, misses := m.metrics.Counts(bucket)
		result[bucket] = BucketSnapshot{
			Entries: len(m.buckets[bucket]),
			Hits:    hits,
			Misses:  misses,
			AuthTTL: profile.Auth.String(),
			AnonTTL: profile.Anon.String(),
		}
	}
	return result
}
