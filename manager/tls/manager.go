package tls

import (
	"bytes"
	"context"
	stdtls "crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/OpenListTeam/elastic-hal/common/bytespool"
	"github.com/OpenListTeam/elastic-hal/resource"
	"go.uber.org/zap"
)

// DefaultBindHost 是 Bind 默认监听的地址。
const DefaultBindHost = "0.0.0.0"

// ConnectionManager owns the single listener and every established connection.
type ConnectionManager struct {
	conns   *resource.Manager[*Connection]
	futures *resource.Manager[*Future]

	mu       sync.Mutex
	listener *net.TCPListener
	bindHost string

	dialer net.Dialer
	logger *zap.Logger
}

// ManagerOption 配置 ConnectionManager。
type ManagerOption func(*ConnectionManager)

// WithLogger sets the logger. The manager names it "tls".
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBindHost overrides the address Bind listens on.
func WithBindHost(host string) ManagerOption {
	return func(m *ConnectionManager) {
		m.bindHost = host
	}
}

func NewConnectionManager(opts ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		bindHost: DefaultBindHost,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("tls")
	m.conns = resource.NewManager[*Connection](func(c *Connection) {
		if err := c.Close(); err != nil {
			m.logger.Debug("close connection", zap.Error(err))
		}
	})
	m.futures = resource.NewManager[*Future](func(f *Future) {
		f.release(m)
	})
	return m
}

// Bind 打开唯一的监听套接字；已有的监听器会先被关闭。port 为 0 时由系统分配。
func (m *ConnectionManager) Bind(port int) error {
	if port < 0 || port > 65535 {
		return newError(KindInvalidConfig, "bind", fmt.Errorf("port %d out of range", port))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		m.logger.Info("replacing listener", zap.Stringer("addr", m.listener.Addr()))
		_ = m.listener.Close()
		m.listener = nil
	}

	addr := net.JoinHostPort(m.bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return newError(KindConnectionFailed, "bind", err)
	}
	m.listener = ln.(*net.TCPListener)
	m.logger.Info("listening", zap.Stringer("addr", ln.Addr()))
	return nil
}

// Port returns the local port of the current listener.
func (m *ConnectionManager) Port() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return 0, newError(KindConnectionFailed, "port", errors.New("no listener bound"))
	}
	return m.listener.Addr().(*net.TCPAddr).Port, nil
}

// CloseListener 关闭当前监听器。未绑定时不做任何事。
func (m *ConnectionManager) CloseListener() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	err := m.listener.Close()
	m.listener = nil
	return err
}

func (m *ConnectionManager) currentListener() *net.TCPListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// Accept waits for one inbound connection and completes the server handshake with
// params. A failed handshake drops the socket and registers nothing; the listener
// stays open so the caller can accept again.
func (m *ConnectionManager) Accept(ctx context.Context, params *Params) (uint32, error) {
	if params == nil || params.Role != RoleServer {
		return 0, newError(KindInvalidConfig, "accept", errors.New("server parameters required"))
	}
	ln := m.currentListener()
	if ln == nil {
		return 0, newError(KindConnectionFailed, "accept", errors.New("no listener bound"))
	}

	raw, err := acceptContext(ctx, ln)
	if err != nil {
		return 0, newError(KindConnectionFailed, "accept", err)
	}

	conn := stdtls.Server(raw, params.Config)
	return m.establish(ctx, "accept", RoleServer, conn, params)
}

func acceptContext(ctx context.Context, ln *net.TCPListener) (net.Conn, error) {
	for {
		restore := interruptOn(ctx, ln.SetDeadline)
		raw, err := ln.Accept()
		restore()
		if err == nil {
			if ctx.Err() != nil {
				_ = raw.Close()
				return nil, ctx.Err()
			}
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 另一个 Accept 被取消时会短暂影响共享监听器的 deadline
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		return nil, err
	}
}

// Connect dials host:port and completes the client handshake with params.
func (m *ConnectionManager) Connect(ctx context.Context, host string, port int, params *Params) (uint32, error) {
	if params == nil || params.Role != RoleClient {
		return 0, newError(KindInvalidConfig, "connect", errors.New("client parameters required"))
	}
	if port <= 0 || port > 65535 {
		return 0, newError(KindInvalidConfig, "connect", fmt.Errorf("port %d out of range", port))
	}

	raw, err := m.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return 0, newError(KindConnectionFailed, "connect", err)
	}

	conn := stdtls.Client(raw, params.Config)
	return m.establish(ctx, "connect", RoleClient, conn, params)
}

// establish 完成握手、校验协商结果，最后才注册句柄。
func (m *ConnectionManager) establish(ctx context.Context, op string, role Role, conn *stdtls.Conn, params *Params) (uint32, error) {
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.NetConn().Close()
		m.logger.Warn("handshake failed", zap.String("op", op), zap.Error(err))
		return 0, newError(KindHandshakeFailed, op, err)
	}
	if err := params.Check(conn.ConnectionState()); err != nil {
		_ = conn.Close()
		m.logger.Warn("negotiated parameters rejected", zap.String("op", op), zap.Error(err))
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return 0, newError(KindHandshakeFailed, op, err)
	}

	c := newConnection(role, conn)
	h, err := m.conns.Add(c)
	if err != nil {
		_ = conn.Close()
		return 0, newError(KindConnectionFailed, op, err)
	}
	m.logger.Debug("established",
		zap.String("op", op),
		zap.Uint32("handle", h),
		zap.String("remote", c.RemoteAddr()),
		zap.String("version", stdtls.VersionName(c.state.Version)),
		zap.String("suite", stdtls.CipherSuiteName(c.state.CipherSuite)),
		zap.String("alpn", c.state.ALPN))
	return h, nil
}

// Close 移除并关闭连接。重复关闭返回 NotFound。
func (m *ConnectionManager) Close(h uint32) error {
	if err := m.conns.Remove(h); err != nil {
		return wrap(KindNotFound, "close", err)
	}
	m.logger.Debug("closed", zap.Uint32("handle", h))
	return nil
}

// Write writes all of b, or fails with WriteFailed.
func (m *ConnectionManager) Write(ctx context.Context, h uint32, b []byte) error {
	c, err := m.conns.Get(h)
	if err != nil {
		return wrap(KindNotFound, "write", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	restore := interruptOn(ctx, c.conn.SetWriteDeadline)
	_, err = c.conn.Write(b)
	restore()
	if err != nil {
		return m.ioError(ctx, KindWriteFailed, "write", h, err)
	}
	return nil
}

// Read returns between 0 and max bytes. An empty result means the peer closed the
// stream gracefully.
func (m *ConnectionManager) Read(ctx context.Context, h uint32, max int) ([]byte, error) {
	if max <= 0 {
		return nil, newError(KindInvalidConfig, "read", fmt.Errorf("max size %d", max))
	}
	c, err := m.conns.Get(h)
	if err != nil {
		return nil, wrap(KindNotFound, "read", err)
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()

	buf := bytespool.Alloc(min(max, bytespool.MaxSize()))
	defer bytespool.Free(buf)

	restore := interruptOn(ctx, c.conn.SetReadDeadline)
	n, err := c.conn.Read(buf)
	restore()
	if n > 0 {
		return bytes.Clone(buf[:n]), nil
	}
	if errors.Is(err, io.EOF) {
		return []byte{}, nil
	}
	return nil, m.ioError(ctx, KindReadFailed, "read", h, err)
}

// ioError 区分被并发关闭的句柄与真正的 I/O 失败。
func (m *ConnectionManager) ioError(ctx context.Context, kind Kind, op string, h uint32, err error) error {
	if _, gerr := m.conns.Get(h); gerr != nil {
		return wrap(KindNotFound, op, gerr)
	}
	if cerr := ctx.Err(); cerr != nil {
		return newError(kind, op, cerr)
	}
	return newError(kind, op, err)
}

// PeerCertificate returns the DER leaf presented by the peer, or nil when the peer
// presented none.
func (m *ConnectionManager) PeerCertificate(h uint32) ([]byte, error) {
	c, err := m.conns.Get(h)
	if err != nil {
		return nil, wrap(KindNotFound, "peer-certificate", err)
	}
	if len(c.state.PeerCertificates) == 0 {
		return nil, nil
	}
	return bytes.Clone(c.state.PeerCertificates[0]), nil
}

func (m *ConnectionManager) ProtocolVersion(h uint32) (Version, error) {
	c, err := m.conns.Get(h)
	if err != nil {
		return 0, wrap(KindNotFound, "protocol-version", err)
	}
	v, ok := VersionFromWire(c.state.Version)
	if !ok {
		return 0, newError(KindUnsupportedProtocol, "protocol-version",
			fmt.Errorf("wire version 0x%04x", c.state.Version))
	}
	return v, nil
}

func (m *ConnectionManager) CipherSuite(h uint32) (CipherSuite, error) {
	c, err := m.conns.Get(h)
	if err != nil {
		return 0, wrap(KindNotFound, "cipher-suite", err)
	}
	s, ok := CipherSuiteFromWire(c.state.CipherSuite)
	if !ok {
		return 0, newError(KindUnsupportedCipher, "cipher-suite",
			fmt.Errorf("wire suite 0x%04x", c.state.CipherSuite))
	}
	return s, nil
}

// ALPN 返回协商出的应用层协议，未协商时为空字符串。
func (m *ConnectionManager) ALPN(h uint32) (string, error) {
	c, err := m.conns.Get(h)
	if err != nil {
		return "", wrap(KindNotFound, "alpn", err)
	}
	return c.state.ALPN, nil
}

func (m *ConnectionManager) State(h uint32) (State, error) {
	c, err := m.conns.Get(h)
	if err != nil {
		return State{}, wrap(KindNotFound, "state", err)
	}
	return c.State(), nil
}

// Len returns the number of established connections.
func (m *ConnectionManager) Len() int {
	return m.conns.Len()
}

// Shutdown closes the listener, every pending future and every connection.
func (m *ConnectionManager) Shutdown() error {
	err := m.CloseListener()
	m.futures.Clear()
	m.conns.Clear()
	return err
}
