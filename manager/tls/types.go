package tls

import (
	stdtls "crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// Version 是本系统自己的协议版本枚举。
type Version uint8

const (
	VersionTLS12 Version = iota + 1
	VersionTLS13
)

func (v Version) String() string {
	switch v {
	case VersionTLS12:
		return "TLS1.2"
	case VersionTLS13:
		return "TLS1.3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// Wire returns the crypto/tls protocol version constant.
func (v Version) Wire() uint16 {
	switch v {
	case VersionTLS12:
		return stdtls.VersionTLS12
	case VersionTLS13:
		return stdtls.VersionTLS13
	default:
		return 0
	}
}

// VersionFromWire maps a negotiated protocol version onto Version.
func VersionFromWire(v uint16) (Version, bool) {
	switch v {
	case stdtls.VersionTLS12:
		return VersionTLS12, true
	case stdtls.VersionTLS13:
		return VersionTLS13, true
	default:
		return 0, false
	}
}

// ParseVersion accepts "1.2", "TLS1.2", "tls1.3" and the like.
func ParseVersion(s string) (Version, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1.2", "TLS1.2", "TLS12":
		return VersionTLS12, nil
	case "1.3", "TLS1.3", "TLS13":
		return VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version: %q", s)
	}
}

// CipherSuite 是三种受支持的 AEAD 套件。
type CipherSuite uint8

const (
	AES128GCMSHA256 CipherSuite = iota + 1
	AES256GCMSHA384
	ChaCha20Poly1305SHA256
)

// AllCipherSuites 是标准的三套件集合，顺序即默认偏好。
var AllCipherSuites = []CipherSuite{AES256GCMSHA384, ChaCha20Poly1305SHA256, AES128GCMSHA256}

func (c CipherSuite) String() string {
	switch c {
	case AES128GCMSHA256:
		return "TLS_AES_128_GCM_SHA256"
	case AES256GCMSHA384:
		return "TLS_AES_256_GCM_SHA384"
	case ChaCha20Poly1305SHA256:
		return "TLS_CHACHA20_POLY1305_SHA256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// IsAESGCM reports whether the suite runs on an AES engine.
func (c CipherSuite) IsAESGCM() bool {
	return c == AES128GCMSHA256 || c == AES256GCMSHA384
}

// WireTLS13 returns the TLS 1.3 suite id.
func (c CipherSuite) WireTLS13() uint16 {
	switch c {
	case AES128GCMSHA256:
		return stdtls.TLS_AES_128_GCM_SHA256
	case AES256GCMSHA384:
		return stdtls.TLS_AES_256_GCM_SHA384
	case ChaCha20Poly1305SHA256:
		return stdtls.TLS_CHACHA20_POLY1305_SHA256
	default:
		return 0
	}
}

// WireTLS12 returns the TLS 1.2 ECDHE suite ids carrying the same AEAD and hash,
// ECDSA first, then RSA.
func (c CipherSuite) WireTLS12() []uint16 {
	switch c {
	case AES128GCMSHA256:
		return []uint16{stdtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, stdtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}
	case AES256GCMSHA384:
		return []uint16{stdtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384, stdtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384}
	case ChaCha20Poly1305SHA256:
		return []uint16{stdtls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256, stdtls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256}
	default:
		return nil
	}
}

// CipherSuiteFromWire maps a negotiated suite id (TLS 1.2 or 1.3) onto CipherSuite.
func CipherSuiteFromWire(id uint16) (CipherSuite, bool) {
	switch id {
	case stdtls.TLS_AES_128_GCM_SHA256,
		stdtls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		stdtls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:
		return AES128GCMSHA256, true
	case stdtls.TLS_AES_256_GCM_SHA384,
		stdtls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		stdtls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:
		return AES256GCMSHA384, true
	case stdtls.TLS_CHACHA20_POLY1305_SHA256,
		stdtls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		stdtls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:
		return ChaCha20Poly1305SHA256, true
	default:
		return 0, false
	}
}

// ParseCipherSuite accepts the IANA-style names and a few short aliases.
func ParseCipherSuite(s string) (CipherSuite, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TLS_AES_128_GCM_SHA256", "AES128GCMSHA256", "AES-128-GCM":
		return AES128GCMSHA256, nil
	case "TLS_AES_256_GCM_SHA384", "AES256GCMSHA384", "AES-256-GCM":
		return AES256GCMSHA384, nil
	case "TLS_CHACHA20_POLY1305_SHA256", "CHACHA20POLY1305SHA256", "CHACHA20-POLY1305":
		return ChaCha20Poly1305SHA256, nil
	default:
		return 0, fmt.Errorf("unknown cipher suite: %q", s)
	}
}

// Role 区分连接的服务端与客户端。
type Role uint8

const (
	RoleServer Role = iota + 1
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Config is the per-attempt TLS configuration supplied by the caller.
type Config struct {
	MinVersion Version
	MaxVersion Version
	// CipherSuites is the ordered suite preference. Empty means AllCipherSuites.
	CipherSuites []CipherSuite
	// VerifyPeer enables chain + hostname verification on the client and demands a
	// client certificate (mutual TLS) on the server.
	VerifyPeer bool
	// ServerName overrides the name verified against the server's SANs. Client only.
	ServerName string
}

// DefaultConfig 返回默认配置：TLS1.2 至 TLS1.3，全部三种套件，校验对端。
func DefaultConfig() Config {
	return Config{
		MinVersion:   VersionTLS12,
		MaxVersion:   VersionTLS13,
		CipherSuites: slices.Clone(AllCipherSuites),
		VerifyPeer:   true,
	}
}

// normalized returns a copy with defaults filled in, so later mutation by the caller
// cannot reach the negotiation parameters.
func (c Config) normalized() Config {
	out := c
	if out.MinVersion == 0 {
		out.MinVersion = VersionTLS12
	}
	if out.MaxVersion == 0 {
		out.MaxVersion = VersionTLS13
	}
	if len(out.CipherSuites) == 0 {
		out.CipherSuites = slices.Clone(AllCipherSuites)
	} else {
		out.CipherSuites = dedupSuites(c.CipherSuites)
	}
	return out
}

// Validate 检查版本范围和套件取值。
func (c Config) Validate() error {
	n := c.normalized()
	if n.MinVersion.Wire() == 0 {
		return fmt.Errorf("invalid min version %s", n.MinVersion)
	}
	if n.MaxVersion.Wire() == 0 {
		return fmt.Errorf("invalid max version %s", n.MaxVersion)
	}
	if n.MinVersion > n.MaxVersion {
		return fmt.Errorf("min version %s is above max version %s", n.MinVersion, n.MaxVersion)
	}
	for _, s := range n.CipherSuites {
		if s.WireTLS13() == 0 {
			return fmt.Errorf("invalid cipher suite %s", s)
		}
	}
	return nil
}

// key 用作策略缓存键的一部分。
func (c Config) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-%d-%t-%s", c.MinVersion, c.MaxVersion, c.VerifyPeer, c.ServerName)
	for _, s := range c.CipherSuites {
		fmt.Fprintf(&b, ",%d", s)
	}
	return b.String()
}

// coversAllSuites reports whether every standard suite is allowed.
func (c Config) coversAllSuites() bool {
	for _, s := range AllCipherSuites {
		if !slices.Contains(c.CipherSuites, s) {
			return false
		}
	}
	return true
}

func dedupSuites(in []CipherSuite) []CipherSuite {
	out := make([]CipherSuite, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// State is the negotiated session state captured once the handshake completes.
type State struct {
	Role        Role
	Version     uint16
	CipherSuite uint16
	// PeerCertificates holds the DER chain presented by the peer, leaf first.
	PeerCertificates [][]byte
	ALPN             string
	ServerName       string
}
