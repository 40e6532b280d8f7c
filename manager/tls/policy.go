package tls

import (
	stdtls "crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultALPN 是双方角色固定提供的 ALPN 列表，新协议在前。
var DefaultALPN = []string{"h2", "http/1.1"}

// Params is a fully built negotiation parameter set: the crypto/tls configuration
// together with the policy the negotiated session must satisfy.
type Params struct {
	Role   Role
	Config *stdtls.Config
	// Suites is the offered suite order after acceleration ordering.
	Suites     []CipherSuite
	MinVersion Version
	MaxVersion Version
	VerifyPeer bool
	ServerName string
}

// Check enforces the declared policy on a completed handshake. crypto/tls cannot
// restrict TLS 1.3 suites, so a TLS 1.3 session may land on a suite outside Suites.
func (p *Params) Check(state stdtls.ConnectionState) error {
	v, ok := VersionFromWire(state.Version)
	if !ok || v < p.MinVersion || v > p.MaxVersion {
		return newError(KindUnsupportedProtocol, "handshake",
			fmt.Errorf("negotiated %s outside policy", stdtls.VersionName(state.Version)))
	}
	s, ok := CipherSuiteFromWire(state.CipherSuite)
	if !ok || !slices.Contains(p.Suites, s) {
		return newError(KindUnsupportedCipher, "handshake",
			fmt.Errorf("negotiated %s outside policy", stdtls.CipherSuiteName(state.CipherSuite)))
	}
	return nil
}

type policyKey struct {
	role       Role
	config     string
	serverName string
	identSrc   uint64
	identGen   uint64
	trustSrc   uint64
	trustGen   uint64
}

// CipherPolicy 根据后端能力与证书存储构建协商参数，并缓存构建结果。
type CipherPolicy struct {
	accelerated bool
	alpn        []string
	cache       *lru.Cache[policyKey, *Params]
}

// NewCipherPolicy creates a policy. alpn nil means DefaultALPN.
func NewCipherPolicy(accelerated bool, alpn []string) *CipherPolicy {
	if alpn == nil {
		alpn = DefaultALPN
	}
	cache, _ := lru.New[policyKey, *Params](32)
	return &CipherPolicy{
		accelerated: accelerated,
		alpn:        slices.Clone(alpn),
		cache:       cache,
	}
}

// Accelerated reports whether AES-GCM suites are moved to the front.
func (p *CipherPolicy) Accelerated() bool { return p.accelerated }

// ALPN returns a copy of the offered protocol list.
func (p *CipherPolicy) ALPN() []string { return slices.Clone(p.alpn) }

// OrderSuites 返回提供顺序：有 AES 加速时 AES-GCM 套件稳定前移，否则保持调用方顺序。
// 不会删除任何套件。
func (p *CipherPolicy) OrderSuites(suites []CipherSuite) []CipherSuite {
	out := slices.Clone(suites)
	if !p.accelerated {
		return out
	}
	slices.SortStableFunc(out, func(a, b CipherSuite) int {
		switch {
		case a.IsAESGCM() == b.IsAESGCM():
			return 0
		case a.IsAESGCM():
			return -1
		default:
			return 1
		}
	})
	return out
}

// BuildClientPolicy builds client parameters for dialing serverName. identity may be nil;
// when present it is offered if the server asks for a client certificate.
func (p *CipherPolicy) BuildClientPolicy(cfg Config, serverName string, identity *Identity, trust *TrustStore) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindInvalidConfig, "client-policy", err)
	}
	cfg = cfg.normalized()
	name := cfg.ServerName
	if name == "" {
		name = serverName
	}
	if cfg.VerifyPeer && name == "" {
		return nil, newError(KindInvalidConfig, "client-policy", errors.New("verify_peer requires a server name"))
	}

	key, cacheable := p.key(RoleClient, cfg, name, identity, trust)
	if cacheable {
		if params, ok := p.cache.Get(key); ok {
			return params, nil
		}
	}

	params := p.base(RoleClient, cfg)
	params.ServerName = name
	c := params.Config
	c.ServerName = name
	if cfg.VerifyPeer {
		// 只信任已加载的 CA，不回落到系统根证书；crypto/tls 同时校验 SAN。
		if trust != nil && trust.Pool != nil {
			c.RootCAs = trust.Pool
		} else {
			c.RootCAs = x509.NewCertPool()
		}
	} else {
		c.InsecureSkipVerify = true
	}
	if identity != nil {
		c.Certificates = []stdtls.Certificate{identity.TLSCertificate()}
	}

	if cacheable {
		p.cache.Add(key, params)
	}
	return params, nil
}

// BuildServerPolicy builds server parameters. With VerifyPeer the client must present a
// certificate chaining to trust; otherwise no client certificate is requested.
func (p *CipherPolicy) BuildServerPolicy(cfg Config, identity *Identity, trust *TrustStore) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindInvalidConfig, "server-policy", err)
	}
	if identity == nil {
		return nil, newError(KindMissingIdentity, "server-policy", nil)
	}
	cfg = cfg.normalized()

	key, cacheable := p.key(RoleServer, cfg, "", identity, trust)
	if cacheable {
		if params, ok := p.cache.Get(key); ok {
			return params, nil
		}
	}

	params := p.base(RoleServer, cfg)
	c := params.Config
	c.Certificates = []stdtls.Certificate{identity.TLSCertificate()}
	// 不做会话恢复，每个句柄都对应一次完整握手
	c.SessionTicketsDisabled = true
	if cfg.VerifyPeer {
		c.ClientAuth = stdtls.RequireAndVerifyClientCert
		if trust != nil && trust.Pool != nil {
			c.ClientCAs = trust.Pool
		} else {
			c.ClientCAs = x509.NewCertPool()
		}
	} else {
		c.ClientAuth = stdtls.NoClientCert
	}
	c.GetConfigForClient = preferSuites(c, params.Suites)

	if cacheable {
		p.cache.Add(key, params)
	}
	return params, nil
}

// preferSuites 按 suites 的顺序选出 ClientHello 中第一个可用的套件，并把配置收窄到该套件。
// crypto/tls 忽略 CipherSuites 的顺序，TLS 1.2 的结果只能这样由策略决定；
// TLS 1.3 的套件仍由 crypto/tls 自己选择，协商后由 Params.Check 校验。
func preferSuites(base *stdtls.Config, suites []CipherSuite) func(*stdtls.ClientHelloInfo) (*stdtls.Config, error) {
	return func(hello *stdtls.ClientHelloInfo) (*stdtls.Config, error) {
		for _, s := range suites {
			ids := s.WireTLS12()
			offered := slices.ContainsFunc(ids, func(id uint16) bool {
				return slices.Contains(hello.CipherSuites, id)
			})
			if !offered {
				continue
			}
			c := base.Clone()
			c.GetConfigForClient = nil
			c.CipherSuites = ids
			return c, nil
		}
		// 没有交集时交给 crypto/tls 报告握手失败
		return nil, nil
	}
}

func (p *CipherPolicy) base(role Role, cfg Config) *Params {
	suites := p.OrderSuites(cfg.CipherSuites)
	maxVersion := cfg.MaxVersion
	if !cfg.coversAllSuites() && cfg.MinVersion <= VersionTLS12 {
		// TLS 1.3 套件无法限制，降到 1.2 以保证线上只出现允许的套件
		maxVersion = VersionTLS12
	}

	wire := make([]uint16, 0, len(suites)*2)
	for _, s := range suites {
		wire = append(wire, s.WireTLS12()...)
	}

	return &Params{
		Role:       role,
		Suites:     suites,
		MinVersion: cfg.MinVersion,
		MaxVersion: maxVersion,
		VerifyPeer: cfg.VerifyPeer,
		Config: &stdtls.Config{
			MinVersion:   cfg.MinVersion.Wire(),
			MaxVersion:   maxVersion.Wire(),
			CipherSuites: wire,
			NextProtos:   slices.Clone(p.alpn),
		},
	}
}

func (p *CipherPolicy) key(role Role, cfg Config, serverName string, identity *Identity, trust *TrustStore) (policyKey, bool) {
	k := policyKey{role: role, config: cfg.key(), serverName: serverName}
	if identity != nil {
		if identity.source == 0 {
			return k, false
		}
		k.identSrc, k.identGen = identity.source, identity.generation
	}
	if trust != nil {
		if trust.source == 0 {
			return k, false
		}
		k.trustSrc, k.trustGen = trust.source, trust.Generation
	}
	return k, true
}
