package tls

import (
	"bytes"
	"context"
	stdtls "crypto/tls"
	"sync"
	"time"
)

// Connection 是一个已完成握手的 TLS 连接及其协商结果。
// 只有 ConnectionManager 会创建或修改它。
type Connection struct {
	conn  *stdtls.Conn
	state State

	readMu  sync.Mutex
	writeMu sync.Mutex
}

func newConnection(role Role, conn *stdtls.Conn) *Connection {
	cs := conn.ConnectionState()
	peers := make([][]byte, len(cs.PeerCertificates))
	for i, c := range cs.PeerCertificates {
		peers[i] = bytes.Clone(c.Raw)
	}
	return &Connection{
		conn: conn,
		state: State{
			Role:             role,
			Version:          cs.Version,
			CipherSuite:      cs.CipherSuite,
			PeerCertificates: peers,
			ALPN:             cs.NegotiatedProtocol,
			ServerName:       cs.ServerName,
		},
	}
}

// Close 发送 close_notify 并关闭底层连接。
func (c *Connection) Close() error {
	return c.conn.Close()
}

// State returns a copy of the negotiated state.
func (c *Connection) State() State {
	s := c.state
	s.PeerCertificates = make([][]byte, len(c.state.PeerCertificates))
	for i, der := range c.state.PeerCertificates {
		s.PeerCertificates[i] = bytes.Clone(der)
	}
	return s
}

// RemoteAddr 返回对端地址的字符串形式。
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

var pastDeadline = time.Unix(1, 0)

// interruptOn makes a blocking socket call return once ctx is done by moving the
// deadline into the past. The returned func must be called after the call returns;
// it restores the deadline if the interrupt fired.
func interruptOn(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(pastDeadline)
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
			_ = setDeadline(time.Time{})
		}
	}
}
