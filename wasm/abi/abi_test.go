package abi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/OpenListTeam/elastic-hal/manager/crypto"
	"github.com/OpenListTeam/elastic-hal/manager/filesystem"
	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// 仅导出一页内存的最小模块
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

func newMemory(t *testing.T) api.Memory {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })
	mod, err := r.Instantiate(ctx, memoryModule)
	require.NoError(t, err)
	return mod.Memory()
}

func TestFromError(t *testing.T) {
	cases := []struct {
		err  error
		want Errno
	}{
		{nil, Success},
		{tls.ErrHandshakeFailed, ErrnoHandshakeFailed},
		{fmt.Errorf("wrapped: %w", tls.ErrUnsupportedCipher), ErrnoUnsupportedCipher},
		{resource.ErrNotFound, ErrnoNotFound},
		{crypto.ErrKeyNotFound, ErrnoNotFound},
		{crypto.ErrNotPermitted, ErrnoNotPermitted},
		{filesystem.ErrInvalidMode, ErrnoInvalidMode},
		{context.DeadlineExceeded, ErrnoTimedOut},
		{context.Canceled, ErrnoCanceled},
		{fs.ErrNotExist, ErrnoNoEntry},
		{errors.New("boom"), ErrnoIO},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FromError(c.err), "%v", c.err)
	}
}

func TestMemoryHelpers(t *testing.T) {
	mem := newMemory(t)

	require.Equal(t, Success, WriteBuffer(mem, []byte("hello"), 100, 16, 0))
	n, ok := mem.ReadUint32Le(0)
	require.True(t, ok)
	assert.Equal(t, uint32(5), n)

	s, errno := ReadString(mem, 100, 5)
	require.Equal(t, Success, errno)
	assert.Equal(t, "hello", s)

	// 缓冲区太小：只写入所需长度
	assert.Equal(t, ErrnoRange, WriteBuffer(mem, []byte("hello world"), 200, 4, 8))
	n, _ = mem.ReadUint32Le(8)
	assert.Equal(t, uint32(11), n)

	_, errno = ReadBytes(mem, 65530, 100)
	assert.Equal(t, ErrnoFault, errno)
	assert.Equal(t, ErrnoFault, WriteU64(mem, 65535, 1))

	assert.Equal(t, Success, CheckBuffer(mem, 100, 16, 0))
	assert.Equal(t, ErrnoFault, CheckBuffer(mem, 65530, 100, 0))
	assert.Equal(t, ErrnoFault, CheckBuffer(mem, 100, 16, 65534))

	b, errno := ReadBytes(mem, 70000, 0)
	assert.Equal(t, Success, errno)
	assert.Empty(t, b)
}
