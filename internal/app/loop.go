// 包 app：应用根对象与主事件序列；注册表、场景、裁剪与合并只在这里串行执行
package app

import (
	"context"
	"errors"
	"log/slog"

	"map-api/internal/logger"
)

// ErrLoopStopped：主事件序列已退出
var ErrLoopStopped = errors.New("app: loop stopped")

// 文档注释：主事件序列
// 背景：对应浏览器中的单线程事件循环；网络请求在各自协程上完成，结果以闭包形式投递回来串行应用。
// 约束：闭包内不得阻塞或再次调用 Call（会死锁）；Run 退出后 Post/Call 返回 ErrLoopStopped。
type Loop struct {
	q    chan func()
	done chan struct{}
	log  *slog.Logger
}

// NewLoop：buf 为投递队列长度
func NewLoop(buf int) *Loop {
	if buf <= 0 {
		buf = 64
	}
	return &Loop{q: make(chan func(), buf), done: make(chan struct{}), log: logger.Component("loop")}
}

// Run：阻塞执行闭包直到 ctx 取消
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("loop_stop")
			return
		case fn := <-l.q:
			fn()
		}
	}
}

// Post：投递闭包，不等待执行
func (l *Loop) Post(fn func()) error {
	if l.stopped() {
		return ErrLoopStopped
	}
	select {
	case <-l.done:
		return ErrLoopStopped
	case l.q <- fn:
		return nil
	}
}

// Call：投递闭包并等待其返回
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	if l.stopped() {
		return ErrLoopStopped
	}
	res := make(chan error, 1)
	wrapped := func() { res <- fn() }
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	case l.q <- wrapped:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrLoopStopped
		}
	case err := <-res:
		return err
	}
}

func (l *Loop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
