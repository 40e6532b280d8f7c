package io

import (
	"context"
	"sync"
	"time"

	"github.com/OpenListTeam/elastic-hal/resource"
)

// Pollable 是可以被等待的就绪信号，由后台操作（握手、定时器）置为就绪。
type Pollable interface {
	// IsReady 以非阻塞方式检查是否就绪。
	IsReady() bool
	// Wait blocks until ready or ctx is done.
	Wait(ctx context.Context) error
	// Channel 返回内部 channel，就绪时被关闭。
	Channel() <-chan struct{}
	// Close 释放关联资源，例如停止定时器。
	Close()
}

// ChannelPollable signals readiness by closing a channel. Safe for concurrent use.
type ChannelPollable struct {
	mu     sync.Mutex
	ready  chan struct{}
	cancel func()
}

// NewPollable 创建未就绪的 pollable。cancel 在 Close 时调用，可以为 nil。
func NewPollable(cancel func()) *ChannelPollable {
	return &ChannelPollable{
		ready:  make(chan struct{}),
		cancel: cancel,
	}
}

// NewReadyPollable 创建一个已经就绪的 pollable。
func NewReadyPollable() *ChannelPollable {
	p := NewPollable(nil)
	close(p.ready)
	return p
}

// NewTimerPollable becomes ready after d. Close stops the timer.
func NewTimerPollable(d time.Duration) *ChannelPollable {
	p := NewPollable(nil)
	t := time.AfterFunc(d, p.SetReady)
	p.cancel = func() { t.Stop() }
	return p
}

func (p *ChannelPollable) IsReady() bool {
	select {
	case <-p.Channel():
		return true
	default:
		return false
	}
}

func (p *ChannelPollable) Wait(ctx context.Context) error {
	select {
	case <-p.Channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetReady 幂等地置为就绪。
func (p *ChannelPollable) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.ready:
	default:
		close(p.ready)
	}
}

// Reset 使已就绪的 pollable 可以再次使用。之前取得的 Channel 不再有效。
func (p *ChannelPollable) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.ready:
		p.ready = make(chan struct{})
	default:
	}
}

func (p *ChannelPollable) Channel() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *ChannelPollable) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

// PollManager 按句柄管理 Pollable，移除时调用 Close。
type PollManager = resource.Manager[Pollable]

func NewPollManager() *PollManager {
	return resource.NewManager[Pollable](func(p Pollable) {
		p.Close()
	})
}

// Any blocks until at least one of ps is ready and returns the indexes of every
// ready pollable, in order.
func Any(ctx context.Context, ps []Pollable) ([]int, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	for {
		var ready []int
		for i, p := range ps {
			if p.IsReady() {
				ready = append(ready, i)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}

		// 等待任意一个就绪
		woke := make(chan struct{})
		var once sync.Once
		stopCtx, stop := context.WithCancel(ctx)
		for _, p := range ps {
			go func(ch <-chan struct{}) {
				select {
				case <-ch:
					once.Do(func() { close(woke) })
				case <-stopCtx.Done():
				}
			}(p.Channel())
		}
		select {
		case <-woke:
			stop()
		case <-ctx.Done():
			stop()
			return nil, ctx.Err()
		}
	}
}
