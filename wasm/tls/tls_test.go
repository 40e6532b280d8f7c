package elastic_tls

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenListTeam/elastic-hal/backend"
	"github.com/OpenListTeam/elastic-hal/internal/testcert"
	"github.com/OpenListTeam/elastic-hal/internal/wasmtest"
	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	elastic_poll "github.com/OpenListTeam/elastic-hal/wasm/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDecodeConfig(t *testing.T) {
	cfg, errno := DecodeConfig(nil)
	require.Equal(t, abi.Success, errno)
	assert.Equal(t, tls.DefaultConfig(), cfg)

	cfg, errno = DecodeConfig([]byte{byte(tls.VersionTLS12), byte(tls.VersionTLS12), 0, byte(tls.AES256GCMSHA384)})
	require.Equal(t, abi.Success, errno)
	assert.Equal(t, tls.VersionTLS12, cfg.MaxVersion)
	assert.False(t, cfg.VerifyPeer)
	assert.Equal(t, []tls.CipherSuite{tls.AES256GCMSHA384}, cfg.CipherSuites)

	_, errno = DecodeConfig([]byte{1, 2})
	assert.Equal(t, abi.ErrnoInvalidConfig, errno)
	_, errno = DecodeConfig([]byte{byte(tls.VersionTLS13), byte(tls.VersionTLS12), 1})
	assert.Equal(t, abi.ErrnoInvalidConfig, errno)
	_, errno = DecodeConfig([]byte{1, 2, 1, 9})
	assert.Equal(t, abi.ErrnoInvalidConfig, errno)
}

// 内存布局
const (
	outA    = 0
	outB    = 4
	outLen  = 8
	strBase = 1024
	bufBase = 8192
	bufCap  = 4096
)

func guest(t *testing.T) (*wasm.Host, *wasmtest.Instance) {
	host, err := wasm.NewHost(Module(), elastic_poll.Module(),
		wasm.WithBackend(backend.NewLinux()), wasm.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	const poll = "elastic:poll@0.1.0"
	g := wasmtest.Instantiate(t, host, "elastic:tls@0.1.0", []wasmtest.Func{
		wasmtest.I32("context-new", 1),
		wasmtest.I32("context-drop", 1),
		wasmtest.I32("load-certificate", 3),
		wasmtest.I32("load-private-key", 3),
		wasmtest.I32("load-ca-certificates", 3),
		wasmtest.I32("bind", 2),
		wasmtest.I32("port", 2),
		wasmtest.I32("accept", 4),
		wasmtest.I32("connect", 7),
		wasmtest.I32("start-accept", 4),
		wasmtest.I32("start-connect", 7),
		wasmtest.I32("future-subscribe", 3),
		wasmtest.I32("future-get", 3),
		wasmtest.I32("future-drop", 2),
		wasmtest.I32("read", 5),
		wasmtest.I32("write", 4),
		wasmtest.I32("close", 2),
		wasmtest.I32("peer-certificate", 5),
		wasmtest.I32("protocol-version", 3),
		wasmtest.I32("cipher-suite", 3),
		wasmtest.I32("alpn", 5),
		wasmtest.I32("block", 1).From(poll),
	})
	return host, g
}

func newContext(t *testing.T, g *wasmtest.Instance, pair testcert.Pair, caFile string) uint64 {
	t.Helper()
	ctx := context.Background()
	require.Equal(t, abi.Success, g.Call(ctx, "context-new", outA))
	s := uint64(g.U32(outA))

	load := func(fn, path string) {
		p, n := g.Put(strBase, []byte(path))
		require.Equal(t, abi.Success, g.Call(ctx, fn, s, p, n), fn)
	}
	load("load-certificate", pair.CertFile)
	load("load-private-key", pair.KeyFile)
	load("load-ca-certificates", caFile)
	return s
}

func TestGuestHandshakeAndExchange(t *testing.T) {
	pki := testcert.New(t)
	_, g := guest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newContext(t, g, pki.Server, pki.CAFile)
	client := newContext(t, g, pki.Client, pki.CAFile)

	require.Equal(t, abi.Success, g.Call(ctx, "bind", server, 0))
	require.Equal(t, abi.Success, g.Call(ctx, "port", server, outA))
	port := uint64(g.U32(outA))
	require.NotZero(t, port)

	require.Equal(t, abi.Success, g.Call(ctx, "start-accept", server, 0, 0, outA))
	fut := uint64(g.U32(outA))
	require.Equal(t, abi.Success, g.Call(ctx, "future-subscribe", server, fut, outB))
	pollable := uint64(g.U32(outB))
	assert.Equal(t, abi.ErrnoAgain, g.Call(ctx, "future-get", server, fut, outA))

	hostPtr, hostLen := g.Put(strBase, []byte("127.0.0.1"))
	require.Equal(t, abi.Success, g.Call(ctx, "connect", client, hostPtr, hostLen, port, 0, 0, outA))
	cc := uint64(g.U32(outA))

	require.Equal(t, abi.Success, g.Call(ctx, "block", pollable))
	require.Equal(t, abi.Success, g.Call(ctx, "future-get", server, fut, outA))
	sc := uint64(g.U32(outA))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "future-get", server, fut, outA))
	require.Equal(t, abi.Success, g.Call(ctx, "future-drop", server, fut))

	msgPtr, msgLen := g.Put(strBase, []byte("ping from guest"))
	require.Equal(t, abi.Success, g.Call(ctx, "write", client, cc, msgPtr, msgLen))
	// 越界的缓冲区不会消费连接上的数据
	assert.Equal(t, abi.ErrnoFault, g.Call(ctx, "read", server, sc, 65530, bufCap, outLen))
	assert.Equal(t, abi.ErrnoFault, g.Call(ctx, "read", server, sc, bufBase, bufCap, 65534))
	require.Equal(t, abi.Success, g.Call(ctx, "read", server, sc, bufBase, bufCap, outLen))
	assert.Equal(t, "ping from guest", string(g.Bytes(bufBase, g.U32(outLen))))

	require.Equal(t, abi.Success, g.Call(ctx, "protocol-version", client, cc, outA))
	assert.Equal(t, uint32(tls.VersionTLS13), g.U32(outA))
	require.Equal(t, abi.Success, g.Call(ctx, "cipher-suite", server, sc, outB))
	require.Equal(t, abi.Success, g.Call(ctx, "cipher-suite", client, cc, outA))
	assert.Equal(t, g.U32(outA), g.U32(outB))

	require.Equal(t, abi.Success, g.Call(ctx, "alpn", client, cc, bufBase, bufCap, outLen))
	assert.Equal(t, "h2", string(g.Bytes(bufBase, g.U32(outLen))))

	require.Equal(t, abi.Success, g.Call(ctx, "peer-certificate", server, sc, bufBase, bufCap, outLen))
	assert.Equal(t, pki.Client.DER, g.Bytes(bufBase, g.U32(outLen)))
	// 缓冲区过小
	assert.Equal(t, abi.ErrnoRange, g.Call(ctx, "peer-certificate", server, sc, bufBase, 8, outLen))
	assert.Equal(t, uint32(len(pki.Client.DER)), g.U32(outLen))

	// 连接句柄属于各自的上下文
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "close", server, cc+1000))

	require.Equal(t, abi.Success, g.Call(ctx, "close", client, cc))
	require.Equal(t, abi.Success, g.Call(ctx, "read", server, sc, bufBase, bufCap, outLen))
	assert.Zero(t, g.U32(outLen))
	require.Equal(t, abi.Success, g.Call(ctx, "close", server, sc))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "write", client, cc, msgPtr, msgLen))

	require.Equal(t, abi.Success, g.Call(ctx, "context-drop", client))
	require.Equal(t, abi.Success, g.Call(ctx, "context-drop", server))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "bind", server, 0))
}

func TestGuestErrors(t *testing.T) {
	pki := testcert.New(t)
	_, g := guest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.Equal(t, abi.Success, g.Call(ctx, "context-new", outA))
	s := uint64(g.U32(outA))

	// 私钥文件不是证书
	p, n := g.Put(strBase, []byte(pki.Server.KeyFile))
	assert.Equal(t, abi.ErrnoInvalidCertificate, g.Call(ctx, "load-certificate", s, p, n))
	p, n = g.Put(strBase, []byte(filepath.Join(pki.Dir, "missing.pem")))
	assert.Equal(t, abi.ErrnoNoEntry, g.Call(ctx, "load-ca-certificates", s, p, n))

	// 没有身份时不能 accept
	require.Equal(t, abi.Success, g.Call(ctx, "bind", s, 0))
	assert.Equal(t, abi.ErrnoMissingIdentity, g.Call(ctx, "accept", s, 0, 0, outA))
	assert.Equal(t, abi.ErrnoMissingIdentity, g.Call(ctx, "start-accept", s, 0, 0, outA))

	cfgPtr, cfgLen := g.Put(strBase, []byte{2, 1, 1})
	assert.Equal(t, abi.ErrnoInvalidConfig, g.Call(ctx, "accept", s, cfgPtr, cfgLen, outA))

	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "read", s, 77, bufBase, bufCap, outLen))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "future-get", s, 77, outA))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "context-drop", s+100))
}
