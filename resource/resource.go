package resource

import (
	"errors"
	"math"
	"sync"
)

var (
	// ErrNotFound 表示句柄从未分配过，或已经被移除。
	ErrNotFound = errors.New("resource: handle not found")
	// ErrExhausted 表示句柄空间已用尽；分配器不会回绕复用旧值。
	ErrExhausted = errors.New("resource: handle space exhausted")
)

// Manager[T] is a generic, thread-safe handle table for host-owned resources of type T.
// Handles start at 1 and only ever increase, so a removed handle can never come back
// pointing at a different resource.
type Manager[T any] struct {
	mu       sync.RWMutex
	handles  map[uint32]T
	nextID   uint32
	onRemove func(T)
}

// NewManager 创建一个新的资源管理器。onRemove 在 Remove 成功时对被移除的资源调用，可以为 nil。
func NewManager[T any](onRemove func(T)) *Manager[T] {
	return &Manager[T]{
		handles:  make(map[uint32]T),
		onRemove: onRemove,
	}
}

// Add stores a new resource and returns its handle.
func (m *Manager[T]) Add(resource T) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextID == math.MaxUint32 {
		return 0, ErrExhausted
	}
	m.nextID++
	m.handles[m.nextID] = resource
	return m.nextID, nil
}

// Get retrieves a resource by its handle.
func (m *Manager[T]) Get(handle uint32) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.handles[handle]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return res, nil
}

// Update 在写锁下对资源执行读-改-写。fn 不应阻塞。
func (m *Manager[T]) Update(handle uint32, fn func(T) T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.handles[handle]
	if !ok {
		return ErrNotFound
	}
	m.handles[handle] = fn(res)
	return nil
}

// Take 移除句柄并把资源所有权交还给调用者，不会触发 onRemove。
func (m *Manager[T]) Take(handle uint32) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.handles[handle]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	delete(m.handles, handle)
	return res, nil
}

// Remove deletes a resource by its handle and runs the finalizer outside the lock.
// Of several concurrent Remove calls on one handle exactly one succeeds.
func (m *Manager[T]) Remove(handle uint32) error {
	res, err := m.Take(handle)
	if err != nil {
		return err
	}
	if m.onRemove != nil {
		m.onRemove(res)
	}
	return nil
}

// Len returns the number of live handles.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Range iterates over a snapshot of the resources. If f returns false, the iteration stops.
// f may call back into the manager.
func (m *Manager[T]) Range(f func(handle uint32, resource T) bool) {
	m.mu.RLock()
	snapshot := make(map[uint32]T, len(m.handles))
	for handle, resource := range m.handles {
		snapshot[handle] = resource
	}
	m.mu.RUnlock()

	for handle, resource := range snapshot {
		if !f(handle, resource) {
			break
		}
	}
}

// Clear 移除所有句柄并对每个资源调用 onRemove。句柄计数器不会重置。
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	old := m.handles
	m.handles = make(map[uint32]T)
	m.mu.Unlock()

	if m.onRemove == nil {
		return
	}
	for _, res := range old {
		m.onRemove(res)
	}
}
