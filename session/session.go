// Package session 提供 TLS 会话的门面：一个 Context 组合证书存储、套件策略和连接管理器，
// 调用方只需要持有句柄。
package session

import (
	"context"
	"crypto/x509"

	"github.com/OpenListTeam/elastic-hal/backend"
	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

type options struct {
	backend   backend.Backend
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
	bindHost  string
	alpn      []string
}

// Option configures a Context.
type Option func(*options)

// WithBackend 指定后端，跳过环境探测。
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLookupEnv replaces os.LookupEnv for backend detection.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBindHost 设置 Bind 监听的地址，默认 0.0.0.0。
func WithBindHost(host string) Option {
	return func(o *options) { o.bindHost = host }
}

// WithALPN overrides the offered ALPN protocols.
func WithALPN(protos ...string) Option {
	return func(o *options) { o.alpn = protos }
}

// Context is one TLS session context: a certificate store, a cipher policy bound to
// the backend resolved at construction, and a connection manager.
type Context struct {
	backend backend.Backend
	store   *tls.CertificateStore
	policy  *tls.CipherPolicy
	conns   *tls.ConnectionManager
	logger  *zap.Logger
}

// Info 是上下文的诊断快照。
type Info struct {
	Backend     string
	Accelerated bool
	Listening   bool
	Port        int
	Connections int
	HasIdentity bool
	TrustedCAs  int
}

// New 创建上下文。后端只在这里解析一次。
func New(opts ...Option) *Context {
	o := options{
		logger:   zap.NewNop(),
		bindHost: tls.DefaultBindHost,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.backend == nil {
		o.backend = backend.Detect(o.lookupEnv)
	}

	c := &Context{
		backend: o.backend,
		store:   tls.NewCertificateStore(),
		policy:  tls.NewCipherPolicy(o.backend.AcceleratedAEAD(), o.alpn),
		conns:   tls.NewConnectionManager(tls.WithLogger(o.logger), tls.WithBindHost(o.bindHost)),
		logger:  o.logger.Named("session"),
	}
	c.logger.Info("context created",
		zap.String("backend", o.backend.Name()),
		zap.Bool("accelerated", o.backend.AcceleratedAEAD()))
	return c
}

func (c *Context) Backend() backend.Backend { return c.backend }

// Store 返回证书存储。
func (c *Context) Store() *tls.CertificateStore { return c.store }

// Policy returns the cipher policy.
func (c *Context) Policy() *tls.CipherPolicy { return c.policy }

// Connections 返回连接管理器，供异步导出层使用。
func (c *Context) Connections() *tls.ConnectionManager { return c.conns }

func (c *Context) LoadCertificate(path string) error {
	return c.store.LoadCertificate(path)
}

func (c *Context) LoadPrivateKey(path string) error {
	return c.store.LoadPrivateKey(path)
}

func (c *Context) LoadCACertificates(path string) error {
	return c.store.LoadCACertificates(path)
}

func (c *Context) Bind(port int) error {
	return c.conns.Bind(port)
}

func (c *Context) Port() (int, error) {
	return c.conns.Port()
}

// ServerParams builds the server negotiation parameters from the current store.
func (c *Context) ServerParams(cfg tls.Config) (*tls.Params, error) {
	id, err := c.store.ServerIdentity()
	if err != nil {
		return nil, err
	}
	return c.policy.BuildServerPolicy(cfg, id, c.store.TrustStore())
}

// ClientParams 构建客户端参数；已加载身份时用于双向认证。
func (c *Context) ClientParams(cfg tls.Config, host string) (*tls.Params, error) {
	var id *tls.Identity
	if c.store.HasIdentity() {
		var err error
		if id, err = c.store.ServerIdentity(); err != nil {
			return nil, err
		}
	}
	return c.policy.BuildClientPolicy(cfg, host, id, c.store.TrustStore())
}

// Accept waits for one inbound connection and returns its handle.
func (c *Context) Accept(ctx context.Context, cfg tls.Config) (uint32, error) {
	params, err := c.ServerParams(cfg)
	if err != nil {
		return 0, err
	}
	return c.conns.Accept(ctx, params)
}

// Connect dials host:port and returns the handle of the established connection.
func (c *Context) Connect(ctx context.Context, host string, port int, cfg tls.Config) (uint32, error) {
	params, err := c.ClientParams(cfg, host)
	if err != nil {
		return 0, err
	}
	return c.conns.Connect(ctx, host, port, params)
}

// StartAccept 在后台执行 Accept，返回 future 句柄。
func (c *Context) StartAccept(cfg tls.Config) (uint32, error) {
	params, err := c.ServerParams(cfg)
	if err != nil {
		return 0, err
	}
	return c.conns.StartAccept(params)
}

// StartConnect 在后台执行 Connect，返回 future 句柄。
func (c *Context) StartConnect(host string, port int, cfg tls.Config) (uint32, error) {
	params, err := c.ClientParams(cfg, host)
	if err != nil {
		return 0, err
	}
	return c.conns.StartConnect(host, port, params)
}

func (c *Context) FuturePollable(fh uint32) (*manager_io.ChannelPollable, error) {
	return c.conns.FuturePollable(fh)
}

func (c *Context) FutureGet(fh uint32) (uint32, bool, error) {
	return c.conns.FutureGet(fh)
}

func (c *Context) FutureDrop(fh uint32) error {
	return c.conns.FutureDrop(fh)
}

func (c *Context) Read(ctx context.Context, h uint32, max int) ([]byte, error) {
	return c.conns.Read(ctx, h, max)
}

func (c *Context) Write(ctx context.Context, h uint32, b []byte) error {
	return c.conns.Write(ctx, h, b)
}

func (c *Context) Close(h uint32) error {
	return c.conns.Close(h)
}

func (c *Context) PeerCertificate(h uint32) ([]byte, error) {
	return c.conns.PeerCertificate(h)
}

func (c *Context) ProtocolVersion(h uint32) (tls.Version, error) {
	return c.conns.ProtocolVersion(h)
}

func (c *Context) CipherSuite(h uint32) (tls.CipherSuite, error) {
	return c.conns.CipherSuite(h)
}

func (c *Context) ALPN(h uint32) (string, error) {
	return c.conns.ALPN(h)
}

func (c *Context) State(h uint32) (tls.State, error) {
	return c.conns.State(h)
}

// PeerFingerprint returns the SHA3-256 digest of the peer's DER-encoded public key,
// or nil when the peer presented no certificate.
func (c *Context) PeerFingerprint(h uint32) ([]byte, error) {
	der, err := c.conns.PeerCertificate(h)
	if err != nil || der == nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &tls.Error{Kind: tls.KindInvalidCertificate, Op: "peer-fingerprint", Err: err}
	}
	sum := sha3.Sum256(cert.RawSubjectPublicKeyInfo)
	return sum[:], nil
}

func (c *Context) Info() Info {
	port, err := c.conns.Port()
	return Info{
		Backend:     c.backend.Name(),
		Accelerated: c.backend.AcceleratedAEAD(),
		Listening:   err == nil,
		Port:        port,
		Connections: c.conns.Len(),
		HasIdentity: c.store.HasIdentity(),
		TrustedCAs:  c.store.TrustStore().Len(),
	}
}

// Shutdown 关闭监听器和所有连接。之后上下文不应再使用。
func (c *Context) Shutdown() error {
	err := c.conns.Shutdown()
	c.logger.Debug("context shut down", zap.Error(err))
	return err
}
