package distributed_lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memoryLock 进程内的锁实现，用于测试 LockExecutor
type memoryLock struct {
	mu        sync.Mutex
	held      map[string]bool
	tryErr    error
	unlocks   int
	refreshes int32
}

func newMemoryLock() *memoryLock {
	return &memoryLock{held: make(map[string]bool)}
}

func (m *memoryLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tryErr != nil {
		return false, m.tryErr
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memoryLock) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.unlocks++
	return nil
}

func (m *memoryLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	atomic.AddInt32(&m.refreshes, 1)
	return nil
}

func TestLockExecutor_RunsAndReleases(t *testing.T) {
	lock := newMemoryLock()
	executor := NewLockExecutor(lock)

	ran := false
	err := executor.ExecuteWithLock(context.Background(), "etl", time.Minute, func(ctx context.Context) error {
		ran = true
		assert.True(t, lock.held["etl"])
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, lock.held["etl"])
	assert.Equal(t, 1, lock.unlocks)
}

func TestLockExecutor_LockHeld(t *testing.T) {
	lock := newMemoryLock()
	lock.held["etl"] = true
	executor := NewLockExecutor(lock)

	ran := false
	err := executor.ExecuteWithLock(context.Background(), "etl", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})

	assert.True(t, errors.Is(err, ErrLockHeld))
	assert.False(t, ran)
	assert.Zero(t, lock.unlocks, "未持有的锁不释放")
}

func TestLockExecutor_PropagatesErrors(t *testing.T) {
	lock := newMemoryLock()
	executor := NewLockExecutor(lock)
	boom := errors.New("boom")

	err := executor.ExecuteWithLock(context.Background(), "etl", time.Minute, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, lock.unlocks, "执行失败也要释放锁")

	lock.tryErr = errors.New("redis down")
	err = executor.ExecuteWithLock(context.Background(), "etl", time.Minute, func(ctx context.Context) error {
		t.Fatal("获取锁失败时不应执行")
		return nil
	})
	assert.Error(t, err)
}

func TestLockExecutor_Refreshes(t *testing.T) {
	lock := newMemoryLock()
	executor := NewLockExecutor(lock)

	err := executor.ExecuteWithLock(context.Background(), "etl", 30*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&lock.refreshes), int32(0))
}
