package elastic_crypto

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/OpenListTeam/elastic-hal/internal/wasmtest"
	"github.com/OpenListTeam/elastic-hal/manager/crypto"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guest(t *testing.T) *wasmtest.Instance {
	host, err := wasm.NewHost(Module())
	require.NoError(t, err)
	return wasmtest.Instantiate(t, host, "elastic:crypto@0.1.0", []wasmtest.Func{
		wasmtest.I32("generate", 4),
		wasmtest.I32("import", 6),
		wasmtest.I32("export", 4),
		wasmtest.I32("public-key", 4),
		wasmtest.I32("delete", 1),
		wasmtest.I32("encrypt", 6),
		wasmtest.I32("decrypt", 6),
		wasmtest.I32("sign", 6),
		wasmtest.I32("verify", 6),
		wasmtest.I32("hash", 6),
		wasmtest.I32("derive", 5),
	})
}

func TestEncryptDecrypt(t *testing.T) {
	g := guest(t)
	ctx := context.Background()

	require.Equal(t, abi.Success, g.Call(ctx, "generate", uint64(crypto.KeySymmetric), 256, 0, 0))
	k := uint64(g.U32(0))

	msgPtr, msgLen := g.Put(1024, []byte("sealed in the guest"))
	require.Equal(t, abi.Success, g.Call(ctx, "encrypt", k, msgPtr, msgLen, 2048, 256, 4))
	ctLen := g.U32(4)
	assert.Greater(t, ctLen, uint32(msgLen))

	require.Equal(t, abi.Success, g.Call(ctx, "decrypt", k, 2048, uint64(ctLen), 4096, 256, 8))
	assert.Equal(t, "sealed in the guest", string(g.Bytes(4096, g.U32(8))))

	// 缓冲区不足时返回所需长度
	assert.Equal(t, abi.ErrnoRange, g.Call(ctx, "decrypt", k, 2048, uint64(ctLen), 4096, 4, 8))
	assert.Equal(t, uint32(msgLen), g.U32(8))

	require.Equal(t, abi.Success, g.Call(ctx, "delete", k))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "encrypt", k, msgPtr, msgLen, 2048, 256, 4))
}

func TestSignVerifyAndSecureExport(t *testing.T) {
	g := guest(t)
	ctx := context.Background()

	require.Equal(t, abi.Success, g.Call(ctx, "generate", uint64(crypto.KeyAsymmetric), 0, 1, 0))
	k := uint64(g.U32(0))

	msgPtr, msgLen := g.Put(1024, []byte("hello"))
	require.Equal(t, abi.Success, g.Call(ctx, "sign", k, msgPtr, msgLen, 2048, 128, 4))
	sigLen := g.U32(4)
	assert.Equal(t, uint32(64), sigLen)

	require.Equal(t, abi.Success, g.Call(ctx, "verify", k, msgPtr, msgLen, 2048, uint64(sigLen), 8))
	assert.Equal(t, uint32(1), g.U32(8))

	require.Equal(t, abi.Success, g.Call(ctx, "public-key", k, 3072, 64, 12))
	assert.Equal(t, uint32(32), g.U32(12))

	assert.Equal(t, abi.ErrnoNotPermitted, g.Call(ctx, "export", k, 3072, 64, 12))
	assert.Equal(t, abi.ErrnoKeyType, g.Call(ctx, "encrypt", k, msgPtr, msgLen, 2048, 128, 4))
}

func TestImportDeriveHash(t *testing.T) {
	g := guest(t)
	ctx := context.Background()

	keyPtr, keyLen := g.Put(1024, []byte("0123456789abcdef0123456789abcdef"))
	require.Equal(t, abi.Success, g.Call(ctx, "import", keyPtr, keyLen, uint64(crypto.KeyHmac), 0, 0, 0))
	k := uint64(g.U32(0))

	infoPtr, infoLen := g.Put(2048, []byte("session"))
	require.Equal(t, abi.Success, g.Call(ctx, "derive", k, infoPtr, infoLen, 128, 4))
	d := uint64(g.U32(4))
	require.Equal(t, abi.Success, g.Call(ctx, "export", d, 3072, 64, 8))
	assert.Equal(t, uint32(16), g.U32(8))

	dataPtr, dataLen := g.Put(4096, []byte("abc"))
	require.Equal(t, abi.Success, g.Call(ctx, "hash", uint64(crypto.SHA256), dataPtr, dataLen, 5120, 64, 12))
	want := sha256.Sum256([]byte("abc"))
	assert.Equal(t, want[:], g.Bytes(5120, g.U32(12)))

	assert.Equal(t, abi.ErrnoInvalidConfig, g.Call(ctx, "generate", uint64(crypto.KeySymmetric), 100, 0, 0))
}
