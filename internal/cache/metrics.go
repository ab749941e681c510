package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 统计缓存命中/未命中、上游 API 调用、合并请求与清扫淘汰。
// Prometheus 计数器服务于 /-/metrics 抓取，内部原子快照服务于 /-/cache 的
// JSON 诊断输出，两者在每次递增时同步更新。
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	apiCalls  *prometheus.CounterVec
	coalesced *prometheus.CounterVec

	mu       sync.Mutex
	counts   map[Bucket]*bucketCounts
	apiTotal uint64
}

type bucketCounts struct {
	hits      uint64
	misses    uint64
	coalesced uint64
}

// NewMetrics 注册所有计数器。reg 为 nil 时仅保留内部快照，便于测试。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikihub",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits per bucket.",
		}, []string{"bucket"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikihub",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses per bucket.",
		}, []string{"bucket"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikihub",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted by the cleanup sweeper per bucket.",
		}, []string{"bucket"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikihub",
			Subsystem: "github",
			Name:      "api_calls_total",
			Help:      "Upstream GitHub API calls per endpoint.",
		}, []string{"endpoint"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikihub",
			Subsystem: "cache",
			Name:      "coalesced_total",
			Help:      "Requests that piggybacked on an in-flight fetch per bucket.",
		}, []string{"bucket"}),
		counts: make(map[Bucket]*bucketCounts),
	}

	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.apiCalls, m.coalesced)
	}
	return m
}

// Hit 记录一次缓存命中。
func (m *Metrics) Hit(bucket Bucket) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(string(bucket)).Inc()
	m.mu.Lock()
	m.bucketCountsLocked(bucket).hits++
	m.mu.Unlock()
}

// Miss 记录一次缓存未命中。
func (m *Metrics) Miss(bucket Bucket) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(string(bucket)).Inc()
	m.mu.Lock()
	m.bucketCountsLocked(bucket).misses++
	m.mu.Unlock()
}

// Evictions 记录清扫器在某分区淘汰的条目数。
func (m *Metrics) Evictions(bucket Bucket, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(string(bucket)).Add(float64(n))
}

// APICall 记录一次上游 GitHub API 调用。
func (m *Metrics) APICall(endpoint string) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(endpoint).Inc()
	m.mu.Lock()
	m.apiTotal++
	m.mu.Unlock()
}

// Coalesced 记录一次搭上正在进行的上游请求的合并读取。发起回源的
// 调用方不计入，只统计跟随者。
func (m *Metrics) Coalesced(bucket Bucket) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(string(bucket)).Inc()
	m.mu.Lock()
	m.bucketCountsLocked(bucket).coalesced++
	m.mu.Unlock()
}

// CoalescedCount 返回分区累计的合并读取次数。
func (m *Metrics) CoalescedCount(bucket Bucket) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts[bucket]
	if c == nil {
		return 0
	}
	return c.coalesced
}

// Counts 返回分区累计的命中/未命中次数。
func (m *Metrics) Counts(bucket Bucket) (hits, misses uint64) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts[bucket]
	if c == nil {
		return 0, 0
	}
	return c.hits, c.misses
}

// APITotal 返回累计的上游调用次数。
func (m *Metrics) APITotal() uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiTotal
}

func (m *Metrics) bucketCountsLocked(bucket Bucket) *bucketCounts {
	c := m.counts[bucket]
	if c == nil {
		c = &bucketCounts{}
		m.counts[bucket] = c
	}
	return c
}
