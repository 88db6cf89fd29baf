// 包 poll：周期性触发房屋增量抓取，运行在服务进程内的后台协程
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"map-api/internal/logger"
	"map-api/internal/metrics"
)

// DefaultPeriod：默认轮询周期
const DefaultPeriod = 60 * time.Second

// Task：一次抓取并合并；返回前结果已在主事件序列上应用
type Task func(ctx context.Context) error

// 文档注释：轮询调度器
// 背景：按固定周期触发任务；任务本身在独立协程上执行，调度循环不被网络耗时拖慢。
// 约束：同一时刻最多一个任务在途；在途期间到来的节拍直接跳过并计数；错误只记录日志，下个节拍照常触发。
type Scheduler struct {
	period   time.Duration
	task     Task
	inflight atomic.Bool
	fired    atomic.Int64
	skipped  atomic.Int64
	wg       sync.WaitGroup
	log      *slog.Logger
}

// New：period<=0 时使用 DefaultPeriod
func New(period time.Duration, task Task) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{period: period, task: task, log: logger.Component("poll")}
}

// Period：轮询周期
func (s *Scheduler) Period() time.Duration { return s.period }

// Tick：触发一次；已有任务在途时返回 false
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.inflight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.PollTicksTotal.WithLabelValues("skipped").Inc()
		s.log.Warn("poll_tick_skipped", "skipped_total", s.skipped.Load())
		return false
	}
	s.fired.Add(1)
	metrics.PollTicksTotal.WithLabelValues("fired").Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Store(false)
		t0 := time.Now()
		if err := s.task(ctx); err != nil {
			s.log.Error("poll_task_error", "err", err, "duration_ms", time.Since(t0).Milliseconds())
			return
		}
		s.log.Debug("poll_task_done", "duration_ms", time.Since(t0).Milliseconds())
	}()
	return true
}

// Run：阻塞运行直到 ctx 取消；首个节拍在一个周期之后
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.period)
	defer t.Stop()
	s.log.Info("poll_start", "period", s.period.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("poll_stop", "fired", s.fired.Load(), "skipped", s.skipped.Load())
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Start：在后台协程运行
func (s *Scheduler) Start(ctx context.Context) { go s.Run(ctx) }

// Wait：等待在途任务结束
func (s *Scheduler) Wait() { s.wg.Wait() }

// InFlight：是否有任务在途
func (s *Scheduler) InFlight() bool { return s.inflight.Load() }

// Fired：已触发次数
func (s *Scheduler) Fired() int64 { return s.fired.Load() }

// Skipped：因任务在途而跳过的节拍数
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }
