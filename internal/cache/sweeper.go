package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper 周期性扫描所有分区，按分区最大 TTL 做保守淘汰。
// 与读取路径上的按需过期互相独立：读取负责语义正确性，
// 清扫负责限制常驻内存，两者缺一不可。
type Sweeper struct {
	store    *Memory
	interval time.Duration
	logger   *logrus.Logger
	purgers  []Purger
}

// Purger 让清扫循环顺带清理内存之外的过期存储（如星级持久缓存）。
type Purger interface {
	PurgeExpired() (int64, error)
}

// NewSweeper 构建清扫器。interval 小于等于零时退回 10 分钟默认值。
func NewSweeper(store *Memory, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// AttachPurger 注册一个随每轮清扫调用的附加清理器。仅在启动阶段调用。
func (s *Sweeper) AttachPurger(p Purger) {
	if p != nil {
		s.purgers = append(s.purgers, p)
	}
}

// Run 阻塞运行清扫循环，直到 ctx 取消。通常在独立 goroutine 中调用。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce 立即执行一轮清扫并返回内存侧淘汰条目数。附加清理器的失败
// 只记日志，不中断清扫。
func (s *Sweeper) SweepOnce() int {
	evicted := s.store.sweep()

	var purged int64
	for _, purger := range s.purgers {
		n, err := purger.PurgeExpired()
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"action": "cache_sweep",
				}).Warn("附加存储清理失败")
			}
			continue
		}
		purged += n
	}

	if s.logger != nil && (evicted > 0 || purged > 0) {
		s.logger.WithFields(logrus.Fields{
			"action":  "cache_sweep",
			"evicted": evicted,
			"purged":  purged,
		}).Debug("过期条目清扫完成")
	}
	return evicted
}
