// Package clock 按句柄管理时钟，与 TLS 会话使用同一套句柄注册表。
package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"github.com/OpenListTeam/elastic-hal/resource"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("clock: invalid configuration")

// Type 是时钟类型。
type Type uint8

const (
	TypeSystem Type = iota
	TypeMonotonic
	TypeProcess
	TypeThread
)

func (t Type) String() string {
	switch t {
	case TypeSystem:
		return "system"
	case TypeMonotonic:
		return "monotonic"
	case TypeProcess:
		return "process"
	case TypeThread:
		return "thread"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Config describes a clock to create.
type Config struct {
	Type Type
	// HighResolution selects 1ns resolution; otherwise readings and sleeps are
	// truncated to whole milliseconds.
	HighResolution bool
}

const (
	highResolution = time.Nanosecond
	lowResolution  = time.Millisecond
)

type clock struct {
	cfg   Config
	start time.Time
	// cpuStart 是创建时的进程 CPU 时间，仅 TypeProcess 使用。
	cpuStart time.Duration
}

func (c *clock) resolution() time.Duration {
	if c.cfg.HighResolution {
		return highResolution
	}
	return lowResolution
}

// Manager 管理所有时钟句柄。
type Manager struct {
	clocks *resource.Manager[*clock]
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		clocks: resource.NewManager[*clock](nil),
		logger: logger.Named("clock"),
	}
}

// Create returns the handle of a new clock.
func (m *Manager) Create(cfg Config) (uint32, error) {
	if cfg.Type > TypeThread {
		return 0, fmt.Errorf("%w: %s", ErrInvalidConfig, cfg.Type)
	}
	c := &clock{cfg: cfg, start: time.Now()}
	if cfg.Type == TypeProcess {
		c.cpuStart = processTime(c.start)
	}
	h, err := m.clocks.Add(c)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("clock created", zap.Uint32("handle", h), zap.Stringer("type", cfg.Type))
	return h, nil
}

func (m *Manager) Destroy(h uint32) error {
	return m.clocks.Remove(h)
}

// Now returns the clock reading in nanoseconds. System clocks read the Unix epoch;
// the others count from the clock's creation. Process clocks count CPU time where
// the platform reports it.
func (m *Manager) Now(h uint32) (uint64, error) {
	c, err := m.clocks.Get(h)
	if err != nil {
		return 0, err
	}
	var d time.Duration
	now := time.Now()
	switch c.cfg.Type {
	case TypeSystem:
		d = time.Duration(now.UnixNano())
	case TypeProcess:
		d = processTime(c.start) - c.cpuStart
	default:
		// 线程时间没有意义：goroutine 会在线程之间迁移
		d = now.Sub(c.start)
	}
	return uint64(d.Truncate(c.resolution())), nil
}

// Resolution 返回分辨率（纳秒）。
func (m *Manager) Resolution(h uint32) (uint64, error) {
	c, err := m.clocks.Get(h)
	if err != nil {
		return 0, err
	}
	return uint64(c.resolution()), nil
}

// Sleep blocks for d, truncated to the clock's resolution, or until ctx is done.
func (m *Manager) Sleep(ctx context.Context, h uint32, d time.Duration) error {
	c, err := m.clocks.Get(h)
	if err != nil {
		return err
	}
	d = d.Truncate(c.resolution())
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Elapsed 返回自时钟创建以来经过的纳秒数，与时钟类型无关。
func (m *Manager) Elapsed(h uint32) (uint64, error) {
	c, err := m.clocks.Get(h)
	if err != nil {
		return 0, err
	}
	return uint64(time.Since(c.start).Truncate(c.resolution())), nil
}

// Subscribe returns a pollable that becomes ready after d, truncated to the clock's
// resolution.
func (m *Manager) Subscribe(h uint32, d time.Duration) (*manager_io.ChannelPollable, error) {
	c, err := m.clocks.Get(h)
	if err != nil {
		return nil, err
	}
	d = d.Truncate(c.resolution())
	if d <= 0 {
		return manager_io.NewReadyPollable(), nil
	}
	return manager_io.NewTimerPollable(d), nil
}

func (m *Manager) Len() int {
	return m.clocks.Len()
}
