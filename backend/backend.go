// Package backend 描述 HAL 运行所在的执行环境（普通 Linux、SEV-SNP 机密计算客户机、WebAssembly 沙箱），
// 并在上下文构造时一次性解析硬件加速能力。
package backend

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// EnvSEVSNP is the single process-level flag announcing the SEV-SNP accelerated backend.
const EnvSEVSNP = "ELASTIC_SEV_SNP"

// SEVGuestDevice is the guest device node exposed inside an SEV-SNP VM.
const SEVGuestDevice = "/dev/sev-guest"

// Kind 是后端类型。
type Kind uint8

const (
	KindLinux Kind = iota
	KindSEVSNP
	KindSandbox
)

func (k Kind) String() string {
	switch k {
	case KindLinux:
		return "linux"
	case KindSEVSNP:
		return "sev-snp"
	case KindSandbox:
		return "sandbox"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Info 是探测结果的快照，仅用于诊断和日志。
type Info struct {
	Kind Kind
	// DevicePresent reports whether SEVGuestDevice exists on this host.
	DevicePresent bool
	// CPUHasAES reports whether the CPU advertises AES instructions.
	CPUHasAES bool
	// FlagSet reports whether EnvSEVSNP was set when the backend was resolved.
	FlagSet bool
}

// Backend is the strategy object selected once per context. Only AcceleratedAEAD feeds
// cipher-suite policy.
type Backend interface {
	Kind() Kind
	Name() string
	// AcceleratedAEAD reports whether an AES engine accelerates AEAD on this backend.
	AcceleratedAEAD() bool
	Info() Info
}

type staticBackend struct {
	info        Info
	accelerated bool
}

func (b *staticBackend) Kind() Kind            { return b.info.Kind }
func (b *staticBackend) Name() string          { return b.info.Kind.String() }
func (b *staticBackend) AcceleratedAEAD() bool { return b.accelerated }
func (b *staticBackend) Info() Info            { return b.info }

// NewLinux 返回普通 Linux 主机后端，不做任何 AES 偏好。
func NewLinux() Backend {
	return &staticBackend{info: probe(KindLinux, false)}
}

// NewSEVSNP 返回 SEV-SNP 后端。该后端的加速路径是 AES 引擎。
func NewSEVSNP() Backend {
	return &staticBackend{info: probe(KindSEVSNP, true), accelerated: true}
}

type sandboxed struct {
	host Backend
}

// Sandboxed wraps the backend of the host a WebAssembly guest runs on. The guest
// inherits the host's acceleration, since AEAD runs host-side.
func Sandboxed(host Backend) Backend {
	if host == nil {
		host = NewLinux()
	}
	if s, ok := host.(*sandboxed); ok {
		return s
	}
	return &sandboxed{host: host}
}

func (s *sandboxed) Kind() Kind            { return KindSandbox }
func (s *sandboxed) Name() string          { return KindSandbox.String() + "/" + s.host.Name() }
func (s *sandboxed) AcceleratedAEAD() bool { return s.host.AcceleratedAEAD() }
func (s *sandboxed) Info() Info {
	info := s.host.Info()
	info.Kind = KindSandbox
	return info
}

// Host returns the wrapped host backend.
func (s *sandboxed) Host() Backend { return s.host }

func probe(kind Kind, flagSet bool) Info {
	return Info{
		Kind:          kind,
		DevicePresent: deviceExists(SEVGuestDevice),
		CPUHasAES:     cpu.X86.HasAES || cpu.ARM64.HasAES || cpu.S390X.HasAES,
		FlagSet:       flagSet,
	}
}

// FlagEnabled 解释环境变量的值：未设置、"0"、"false"、"off"、"no" 视为关闭。
func FlagEnabled(value string, ok bool) bool {
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "off", "no":
		return false
	}
	return true
}

// Detect resolves the backend from the environment. lookupEnv defaults to os.LookupEnv.
// The flag is read exactly once per call; contexts call Detect once at construction.
func Detect(lookupEnv func(string) (string, bool)) Backend {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if FlagEnabled(lookupEnv(EnvSEVSNP)) {
		return NewSEVSNP()
	}
	return NewLinux()
}

// --- factory registry ---

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Backend{}
)

func init() {
	Register(KindLinux.String(), NewLinux)
	Register(KindSEVSNP.String(), NewSEVSNP)
	Register("auto", func() Backend { return Detect(nil) })
}

// Register adds a backend factory under name. Registering a name twice panics.
func Register(name string, factory func() Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("backend: duplicate registration for %q", name))
	}
	registry[name] = factory
}

// New creates the backend registered under name, or returns an error listing the
// available names. An empty name is treated as "auto".
func New(name string) (Backend, error) {
	if name == "" {
		name = "auto"
	}
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: unknown backend %q (available: %v)", name, Names())
	}
	return factory(), nil
}

// Names 返回已注册的后端名称，按字母排序。
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
