package resource

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManagerAddGetRemove(t *testing.T) {
	m := NewManager[string](nil)

	h1, err := m.Add("first")
	require.NoError(t, err)
	h2, err := m.Add("second")
	require.NoError(t, err)

	// 句柄从 1 开始，严格递增。
	require.Equal(t, uint32(1), h1)
	require.Equal(t, uint32(2), h2)

	v, err := m.Get(h1)
	require.NoError(t, err)
	require.Equal(t, "first", v)

	require.NoError(t, m.Remove(h1))
	_, err = m.Get(h1)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Remove(h1), ErrNotFound)

	_, err = m.Get(0)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, m.Len())
}

func TestManagerNeverReusesHandles(t *testing.T) {
	m := NewManager[int](nil)
	seen := make(map[uint32]bool)

	for i := 0; i < 100; i++ {
		h, err := m.Add(i)
		require.NoError(t, err)
		require.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
		// Removing every slot right away must not let the allocator hand the value out again.
		require.NoError(t, m.Remove(h))
	}
	require.Equal(t, 0, m.Len())
}

func TestManagerExhausted(t *testing.T) {
	m := NewManager[int](nil)
	m.nextID = math.MaxUint32 - 1

	h, err := m.Add(1)
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), h)

	_, err = m.Add(2)
	require.ErrorIs(t, err, ErrExhausted)

	// 旧句柄仍然有效。
	v, err := m.Get(h)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestManagerOnRemove(t *testing.T) {
	var removed []string
	m := NewManager[string](func(s string) { removed = append(removed, s) })

	h, err := m.Add("a")
	require.NoError(t, err)
	h2, err := m.Add("b")
	require.NoError(t, err)

	require.NoError(t, m.Remove(h))
	require.Equal(t, []string{"a"}, removed)

	// Take 转移所有权，不调用 onRemove。
	v, err := m.Take(h2)
	require.NoError(t, err)
	require.Equal(t, "b", v)
	require.Equal(t, []string{"a"}, removed)

	_, err = m.Take(h2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerUpdate(t *testing.T) {
	m := NewManager[int](nil)
	h, err := m.Add(1)
	require.NoError(t, err)

	require.NoError(t, m.Update(h, func(v int) int { return v + 41 }))
	v, err := m.Get(h)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	require.ErrorIs(t, m.Update(99, func(v int) int { return v }), ErrNotFound)
}

func TestManagerClear(t *testing.T) {
	var count atomic.Int32
	m := NewManager[int](func(int) { count.Add(1) })
	for i := 0; i < 5; i++ {
		_, err := m.Add(i)
		require.NoError(t, err)
	}
	m.Clear()
	assert.Equal(t, int32(5), count.Load())
	assert.Equal(t, 0, m.Len())

	h, err := m.Add(10)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), h, "counter must survive Clear")
}

func TestManagerRangeAllowsReentry(t *testing.T) {
	m := NewManager[int](nil)
	for i := 0; i < 10; i++ {
		_, err := m.Add(i)
		require.NoError(t, err)
	}

	m.Range(func(handle uint32, _ int) bool {
		require.NoError(t, m.Remove(handle))
		return true
	})
	require.Equal(t, 0, m.Len())
}

func TestManagerConcurrentRemove(t *testing.T) {
	m := NewManager[int](nil)
	h, err := m.Add(7)
	require.NoError(t, err)

	const workers = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			switch err := m.Remove(h); err {
			case nil:
				successes.Add(1)
			case ErrNotFound:
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(workers-1), notFound.Load())
}

func TestManagerConcurrentAdd(t *testing.T) {
	m := NewManager[int](nil)

	const workers, perWorker = 8, 200
	handles := make(chan uint32, workers*perWorker)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h, err := m.Add(j)
				if err == nil {
					handles <- h
				}
			}
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[uint32]struct{}, workers*perWorker)
	for h := range handles {
		_, dup := seen[h]
		require.False(t, dup)
		seen[h] = struct{}{}
	}
	require.Len(t, seen, workers*perWorker)
}
