package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSweepEvictsOnlyBeyondMaxTTL(t *testing.T) {
	m := NewMemory(testPolicy(), NewMetrics(nil))
	advance := advanceClock(m, time.Now())

	m.Put(BucketPulls, "old", 1)
	advance(10 * time.Minute) // 超过 pulls 的最大 TTL（5m）
	m.Put(BucketPulls, "fresh", 2)

	sweeper := NewSweeper(m, time.Minute, nil)
	evicted := sweeper.SweepOnce()
	if evicted != 1 {
		t.Fatalf("应淘汰 1 条，实际 %d", evicted)
	}
	if m.Len(BucketPulls) != 1 {
		t.Fatalf("未过期条目不应被清扫")
	}
}

func TestSweepKeepsEntryValidForAnyReader(t *testing.T) {
	m := NewMemory(testPolicy(), nil)
	advance := advanceClock(m, time.Now())

	m.Put(BucketPermissions, Key("wiki", "octocat"), "write")
	// 超过已登录 TTL（15m）但未超过匿名 TTL（1h）：保守清扫必须保留。
	advance(30 * time.Minute)

	if evicted := NewSweeper(m, time.Minute, nil).SweepOnce(); evicted != 0 {
		t.Fatalf("对任意读取方式仍有效的条目不应被淘汰，淘汰了 %d", evicted)
	}
	if _, ok := m.Get(BucketPermissions, Key("wiki", "octocat"), false); !ok {
		t.Fatalf("匿名读取应仍命中")
	}
}

func TestSweepClearsUnconfiguredBuckets(t *testing.T) {
	metrics := NewMetrics(nil)
	m := NewMemory(Policy{BucketPulls: {Auth: time.Minute, Anon: time.Minute}}, metrics)
	m.Put(BucketForks, "orphan", 1)
	m.Put(BucketForks, "orphan2", 2)

	if evicted := NewSweeper(m, time.Minute, nil).SweepOnce(); evicted != 2 {
		t.Fatalf("整桶清空应计入返回值，实际 %d", evicted)
	}
	if m.Len(BucketForks) != 0 {
		t.Fatalf("无 TTL 配置的分区应被整桶清空")
	}
	// 整桶清空同样要计入淘汰指标。
	if got := testutil.ToFloat64(metrics.evictions.WithLabelValues(string(BucketForks))); got != 2 {
		t.Fatalf("淘汰计数应为 2，实际 %v", got)
	}
}

type stubPurger struct {
	calls  int
	purged int64
	err    error
}

func (p *stubPurger) PurgeExpired() (int64, error) {
	p.calls++
	return p.purged, p.err
}

func TestSweepRunsAttachedPurgers(t *testing.T) {
	sweeper := NewSweeper(NewMemory(testPolicy(), nil), time.Minute, nil)
	ok := &stubPurger{purged: 3}
	failing := &stubPurger{err: errors.New("db locked")}
	sweeper.AttachPurger(ok)
	sweeper.AttachPurger(failing)
	sweeper.AttachPurger(nil)

	sweeper.SweepOnce()
	sweeper.SweepOnce()

	if ok.calls != 2 || failing.calls != 2 {
		t.Fatalf("每轮清扫都应调用全部清理器: %d/%d", ok.calls, failing.calls)
	}
}
