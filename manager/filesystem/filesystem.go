package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/OpenListTeam/elastic-hal/common/bytespool"
	"github.com/OpenListTeam/elastic-hal/resource"
	"go.uber.org/zap"
)

var (
	ErrInvalidMode   = errors.New("filesystem: operation not allowed by open mode")
	ErrInvalidConfig = errors.New("filesystem: invalid configuration")
)

// Mode 是文件打开模式。
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
	ModeReadWrite
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read-write"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) CanRead() bool  { return m == ModeRead || m == ModeReadWrite }
func (m Mode) CanWrite() bool { return m == ModeWrite || m == ModeReadWrite || m == ModeAppend }

func (m Mode) flags() (int, error) {
	switch m {
	case ModeRead:
		return os.O_RDONLY, nil
	case ModeWrite:
		return os.O_WRONLY, nil
	case ModeReadWrite:
		return os.O_RDWR, nil
	case ModeAppend:
		return os.O_WRONLY | os.O_APPEND, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidConfig, m)
	}
}

// Config describes a file to open.
type Config struct {
	Path string
	Mode Mode
	// Secure 文件创建时权限为 0600。
	Secure   bool
	Create   bool
	Truncate bool
}

// Whence 对应 io.Seek* 常量。
type Whence uint8

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Metadata 是文件元数据。
type Metadata struct {
	Size        uint64
	IsFile      bool
	IsDir       bool
	Permissions uint32
}

// Descriptor is an open file together with the mode it was opened with.
type Descriptor struct {
	mu     sync.Mutex
	File   *os.File
	Path   string
	Mode   Mode
	Secure bool
}

// Manager 管理打开的文件句柄。设置了根目录时，所有路径都相对于该目录解析且不能逃逸。
type Manager struct {
	files  *resource.Manager[*Descriptor]
	root   *os.Root
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithRoot confines every path to dir.
func WithRoot(dir string) Option {
	return func(m *Manager) error {
		root, err := os.OpenRoot(dir)
		if err != nil {
			return err
		}
		m.root = root
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.Named("file")
	m.files = resource.NewManager[*Descriptor](func(d *Descriptor) {
		if err := d.File.Close(); err != nil {
			m.logger.Debug("close file", zap.String("path", d.Path), zap.Error(err))
		}
	})
	return m, nil
}

// Open 打开文件并返回句柄。
func (m *Manager) Open(cfg Config) (uint32, error) {
	if cfg.Path == "" {
		return 0, fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	flag, err := cfg.Mode.flags()
	if err != nil {
		return 0, err
	}
	if cfg.Create {
		flag |= os.O_CREATE
	}
	if cfg.Truncate {
		flag |= os.O_TRUNC
	}
	perm := fs.FileMode(0o644)
	if cfg.Secure {
		perm = 0o600
	}

	var f *os.File
	if m.root != nil {
		f, err = m.root.OpenFile(cfg.Path, flag, perm)
	} else {
		f, err = os.OpenFile(cfg.Path, flag, perm)
	}
	if err != nil {
		return 0, err
	}

	h, err := m.files.Add(&Descriptor{File: f, Path: cfg.Path, Mode: cfg.Mode, Secure: cfg.Secure})
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	m.logger.Debug("opened", zap.Uint32("handle", h), zap.String("path", cfg.Path), zap.Stringer("mode", cfg.Mode))
	return h, nil
}

func (m *Manager) Close(h uint32) error {
	return m.files.Remove(h)
}

// Read reads up to max bytes. An empty result means end of file.
func (m *Manager) Read(h uint32, max int) ([]byte, error) {
	if max <= 0 {
		return nil, fmt.Errorf("%w: max size %d", ErrInvalidConfig, max)
	}
	d, err := m.files.Get(h)
	if err != nil {
		return nil, err
	}
	if !d.Mode.CanRead() {
		return nil, ErrInvalidMode
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := bytespool.Alloc(min(max, bytespool.MaxSize()))
	defer bytespool.Free(buf)
	n, err := d.File.Read(buf)
	if n > 0 {
		return append([]byte(nil), buf[:n]...), nil
	}
	if errors.Is(err, io.EOF) {
		return []byte{}, nil
	}
	return nil, err
}

// Write 写入全部数据并返回写入的字节数。
func (m *Manager) Write(h uint32, b []byte) (int, error) {
	d, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	if !d.Mode.CanWrite() {
		return 0, ErrInvalidMode
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.File.Write(b)
}

func (m *Manager) Seek(h uint32, offset int64, whence Whence) (uint64, error) {
	if whence > SeekEnd {
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidConfig, whence)
	}
	d, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, err := d.File.Seek(offset, int(whence))
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Flush 把文件内容同步到存储。
func (m *Manager) Flush(h uint32) error {
	d, err := m.files.Get(h)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.File.Sync()
}

func (m *Manager) Metadata(h uint32) (Metadata, error) {
	d, err := m.files.Get(h)
	if err != nil {
		return Metadata{}, err
	}
	fi, err := d.File.Stat()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Size:        uint64(fi.Size()),
		IsFile:      fi.Mode().IsRegular(),
		IsDir:       fi.IsDir(),
		Permissions: uint32(fi.Mode().Perm()),
	}, nil
}

// ReadFile reads a whole file, resolved inside the root when one is set.
func (m *Manager) ReadFile(path string) ([]byte, error) {
	if m.root == nil {
		return os.ReadFile(path)
	}
	f, err := m.root.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Shutdown closes every open file and the sandbox root.
func (m *Manager) Shutdown() error {
	m.files.Clear()
	if m.root != nil {
		return m.root.Close()
	}
	return nil
}
