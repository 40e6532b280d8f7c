// Package wasm 把各子系统以 elastic:* 宿主模块的形式导出给 wazero 中运行的 guest。
package wasm

import (
	"context"

	"github.com/OpenListTeam/elastic-hal/backend"
	"github.com/OpenListTeam/elastic-hal/manager/clock"
	"github.com/OpenListTeam/elastic-hal/manager/crypto"
	"github.com/OpenListTeam/elastic-hal/manager/filesystem"
	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"github.com/OpenListTeam/elastic-hal/resource"
	"github.com/OpenListTeam/elastic-hal/session"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Implementation 是所有宿主模块必须实现的接口。
type Implementation interface {
	// Name 返回模块的名称，例如 "elastic:tls"。
	Name() string
	// Versions 返回此实现导出的版本列表。
	Versions() []string
	// Instantiate 将模块的函数导出到 wazero 运行时。
	Instantiate(context.Context, *Host, wazero.HostModuleBuilder) error
}

// Host 持有 guest 可见的全部状态。guest 只能看到句柄。
type Host struct {
	backend  backend.Backend
	logger   *zap.Logger
	fileRoot string

	sessions *resource.Manager[*session.Context]
	clocks   *clock.Manager
	files    *filesystem.Manager
	keys     *crypto.Manager
	polls    *manager_io.PollManager
	closer   *manager_io.MultiCloser

	implementations []Implementation
}

// ModuleOption 是用于配置 Host 的选项函数。
type ModuleOption func(*Host)

// WithBackend sets the host backend; it is wrapped with backend.Sandboxed.
func WithBackend(b backend.Backend) ModuleOption {
	return func(h *Host) { h.backend = b }
}

func WithLogger(logger *zap.Logger) ModuleOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFileRoot 把 guest 的文件访问限制在 dir 内，包括证书和私钥的加载。
func WithFileRoot(dir string) ModuleOption {
	return func(h *Host) { h.fileRoot = dir }
}

// NewHost 创建一个新的 Host 实例，并应用所有提供的模块选项。
func NewHost(opts ...ModuleOption) (*Host, error) {
	h := &Host{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	if h.backend == nil {
		h.backend = backend.Detect(nil)
	}
	if h.backend.Kind() != backend.KindSandbox {
		h.backend = backend.Sandboxed(h.backend)
	}
	h.logger = h.logger.Named("wasm")

	fsOpts := []filesystem.Option{filesystem.WithLogger(h.logger)}
	if h.fileRoot != "" {
		fsOpts = append(fsOpts, filesystem.WithRoot(h.fileRoot))
	}
	files, err := filesystem.NewManager(fsOpts...)
	if err != nil {
		return nil, err
	}
	h.files = files
	h.sessions = resource.NewManager[*session.Context](func(c *session.Context) {
		if err := c.Shutdown(); err != nil {
			h.logger.Debug("session shutdown", zap.Error(err))
		}
	})
	h.clocks = clock.NewManager(h.logger)
	h.keys = crypto.NewManager(crypto.WithAccelerated(h.backend.AcceleratedAEAD()), crypto.WithLogger(h.logger))
	h.polls = manager_io.NewPollManager()

	// 会话先于其余资源关闭
	h.closer = manager_io.NewMultiCloser(
		manager_io.CloserFunc(func() error { h.sessions.Clear(); return nil }),
		manager_io.CloserFunc(func() error { h.polls.Clear(); return nil }),
		manager_io.CloserFunc(func() error { h.keys.Shutdown(); return nil }),
		manager_io.CloserFunc(h.files.Shutdown),
	)

	h.logger.Info("host created", zap.String("backend", h.backend.Name()),
		zap.Bool("accelerated", h.backend.AcceleratedAEAD()), zap.Int("modules", len(h.implementations)))
	return h, nil
}

func (h *Host) AddImplementation(impl Implementation) {
	h.implementations = append(h.implementations, impl)
}

// Instantiate 将所有已配置的模块实例化到 wazero 运行时。
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) error {
	for _, impl := range h.implementations {
		for _, version := range impl.Versions() {
			moduleName := impl.Name() + "@" + version
			builder := r.NewHostModuleBuilder(moduleName)
			if err := impl.Instantiate(ctx, h, builder); err != nil {
				return err
			}

			if _, err := builder.Instantiate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewSession creates a TLS session context bound to the host backend.
func (h *Host) NewSession() (uint32, error) {
	return h.sessions.Add(session.New(session.WithBackend(h.backend), session.WithLogger(h.logger)))
}

func (h *Host) Session(handle uint32) (*session.Context, error) {
	return h.sessions.Get(handle)
}

func (h *Host) DropSession(handle uint32) error {
	return h.sessions.Remove(handle)
}

func (h *Host) Backend() backend.Backend             { return h.backend }
func (h *Host) Logger() *zap.Logger                  { return h.logger }
func (h *Host) Clocks() *clock.Manager               { return h.clocks }
func (h *Host) Files() *filesystem.Manager           { return h.files }
func (h *Host) Keys() *crypto.Manager                { return h.keys }
func (h *Host) PollManager() *manager_io.PollManager { return h.polls }

// Close 释放所有会话、文件、密钥和 pollable。
// 重复调用是安全的。
func (h *Host) Close() error {
	return h.closer.Close()
}
