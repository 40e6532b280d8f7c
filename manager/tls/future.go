package tls

import (
	"context"
	"errors"
	"sync/atomic"

	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"go.uber.org/zap"
)

// Future 代表一个在后台进行的 accept/connect，完成后持有连接句柄或错误。
type Future struct {
	Pollable *manager_io.ChannelPollable

	cancel   context.CancelFunc
	handle   uint32
	err      error
	Consumed atomic.Bool
}

// release 取消未完成的操作；已完成但未被取走的连接会被关闭。
func (f *Future) release(m *ConnectionManager) {
	f.cancel()
	if !f.Pollable.IsReady() {
		return
	}
	if f.err == nil && f.Consumed.CompareAndSwap(false, true) {
		_ = m.Close(f.handle)
	}
}

func (m *ConnectionManager) start(op func(ctx context.Context) (uint32, error)) (uint32, error) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Future{cancel: cancel}
	f.Pollable = manager_io.NewPollable(nil)

	fh, err := m.futures.Add(f)
	if err != nil {
		cancel()
		return 0, newError(KindConnectionFailed, "start", err)
	}
	go func() {
		f.handle, f.err = op(ctx)
		f.Pollable.SetReady()
		// 在完成之前 future 已被丢弃
		if _, gerr := m.futures.Get(fh); gerr != nil && f.err == nil && f.Consumed.CompareAndSwap(false, true) {
			_ = m.Close(f.handle)
		}
	}()
	return fh, nil
}

// StartAccept begins Accept in the background and returns a future handle.
func (m *ConnectionManager) StartAccept(params *Params) (uint32, error) {
	if params == nil || params.Role != RoleServer {
		return 0, newError(KindInvalidConfig, "start-accept", errors.New("server parameters required"))
	}
	return m.start(func(ctx context.Context) (uint32, error) {
		return m.Accept(ctx, params)
	})
}

// StartConnect begins Connect in the background and returns a future handle.
func (m *ConnectionManager) StartConnect(host string, port int, params *Params) (uint32, error) {
	if params == nil || params.Role != RoleClient {
		return 0, newError(KindInvalidConfig, "start-connect", errors.New("client parameters required"))
	}
	return m.start(func(ctx context.Context) (uint32, error) {
		return m.Connect(ctx, host, port, params)
	})
}

// FuturePollable 返回 future 的就绪信号。
func (m *ConnectionManager) FuturePollable(fh uint32) (*manager_io.ChannelPollable, error) {
	f, err := m.futures.Get(fh)
	if err != nil {
		return nil, wrap(KindNotFound, "future-subscribe", err)
	}
	return f.Pollable, nil
}

// FutureGet returns the result once the future is ready. ready is false while the
// operation is still running. The result can be taken only once.
func (m *ConnectionManager) FutureGet(fh uint32) (h uint32, ready bool, err error) {
	f, err := m.futures.Get(fh)
	if err != nil {
		return 0, false, wrap(KindNotFound, "future-get", err)
	}
	if !f.Pollable.IsReady() {
		return 0, false, nil
	}
	if !f.Consumed.CompareAndSwap(false, true) {
		return 0, true, newError(KindNotFound, "future-get", errors.New("result already taken"))
	}
	if f.err != nil {
		return 0, true, f.err
	}
	return f.handle, true, nil
}

// FutureDrop 丢弃 future。
func (m *ConnectionManager) FutureDrop(fh uint32) error {
	if err := m.futures.Remove(fh); err != nil {
		return wrap(KindNotFound, "future-drop", err)
	}
	m.logger.Debug("future dropped", zap.Uint32("future", fh))
	return nil
}
