package pipeline

import (
	"context"
	"sync"
)

// MemoryLocker 进程内互斥，未配置 Redis 时使用
type MemoryLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *MemoryLocker) TryLock(ctx context.Context) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil, false, nil
	}
	l.held = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, true, nil
}
