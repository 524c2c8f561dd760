package reconcile

import (
	"context"
	"time"

	"streetlight-api/internal/errkind"
)

// DefaultLockWait：写锁默认等待上限
const DefaultLockWait = 30 * time.Second

// Locker：单写者锁
// 约束：Acquire 在 wait 内取不到锁返回 ConcurrencyTimeout；返回的 release 只可调用一次
type Locker interface {
	Acquire(ctx context.Context, wait time.Duration) (release func(), err error)
}

// LocalLocker：进程内单写者锁（容量为 1 的信号量）
type LocalLocker struct{ sem chan struct{} }

func NewLocalLocker() *LocalLocker { return &LocalLocker{sem: make(chan struct{}, 1)} }

func (l *LocalLocker) Acquire(ctx context.Context, wait time.Duration) (func(), error) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-t.C:
		return nil, errkind.ConcurrencyTimeout.WithMessagef("lock not acquired within %s", wait)
	case <-ctx.Done():
		return nil, errkind.ConcurrencyTimeout.Wrap(ctx.Err(), "lock wait cancelled")
	}
}
