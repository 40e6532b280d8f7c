package elastic_poll

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/OpenListTeam/elastic-hal/internal/wasmtest"
	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollAny(t *testing.T) {
	host, err := wasm.NewHost(Module())
	require.NoError(t, err)
	g := wasmtest.Instantiate(t, host, "elastic:poll@0.1.0", []wasmtest.Func{
		wasmtest.I32("poll", 4),
		wasmtest.I32("block", 1),
		wasmtest.I32("drop", 1),
	})
	ctx := context.Background()

	pending := manager_io.NewPollable(nil)
	slow, err := host.PollManager().Add(pending)
	require.NoError(t, err)
	fast, err := host.PollManager().Add(manager_io.NewTimerPollable(5 * time.Millisecond))
	require.NoError(t, err)

	list := make([]byte, 8)
	binary.LittleEndian.PutUint32(list, slow)
	binary.LittleEndian.PutUint32(list[4:], fast)
	ptr, _ := g.Put(0, list)

	require.Equal(t, abi.Success, g.Call(ctx, "poll", ptr, 2, 16, 32))
	require.Equal(t, uint32(1), g.U32(32))
	assert.Equal(t, uint32(1), g.U32(16))

	pending.SetReady()
	require.Equal(t, abi.Success, g.Call(ctx, "poll", ptr, 2, 16, 32))
	require.Equal(t, uint32(2), g.U32(32))
	assert.Equal(t, uint32(0), g.U32(16))
	assert.Equal(t, uint32(1), g.U32(20))

	assert.Equal(t, abi.ErrnoInvalidConfig, g.Call(ctx, "poll", ptr, 0, 16, 32))
	require.Equal(t, abi.Success, g.Call(ctx, "drop", uint64(slow)))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "poll", ptr, 2, 16, 32))
}

func TestBlockHonorsCallContext(t *testing.T) {
	host, err := wasm.NewHost(Module())
	require.NoError(t, err)
	g := wasmtest.Instantiate(t, host, "elastic:poll@0.1.0", []wasmtest.Func{
		wasmtest.I32("block", 1),
	})
	p, err := host.PollManager().Add(manager_io.NewPollable(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, abi.ErrnoTimedOut, g.Call(ctx, "block", uint64(p)))
}
