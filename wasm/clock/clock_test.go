package elastic_clock

import (
	"context"
	"testing"
	"time"

	"github.com/OpenListTeam/elastic-hal/internal/wasmtest"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	elastic_poll "github.com/OpenListTeam/elastic-hal/wasm/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
)

func guest(t *testing.T) *wasmtest.Instance {
	host, err := wasm.NewHost(Module(), elastic_poll.Module())
	require.NoError(t, err)
	const poll = "elastic:poll@0.1.0"
	return wasmtest.Instantiate(t, host, "elastic:clock@0.1.0", []wasmtest.Func{
		wasmtest.I32("create", 3),
		wasmtest.I32("destroy", 1),
		wasmtest.I32("now", 2),
		wasmtest.I32("resolution", 2),
		wasmtest.I32("elapsed", 2),
		{Name: "sleep", Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI64}},
		{Name: "subscribe", Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeI32}},
		wasmtest.I32("ready", 2).From(poll),
		wasmtest.I32("block", 1).From(poll),
		wasmtest.I32("drop", 1).From(poll),
	})
}

func TestClockExports(t *testing.T) {
	g := guest(t)
	ctx := context.Background()

	require.Equal(t, abi.Success, g.Call(ctx, "create", 1, 1, 0))
	c := g.U32(0)

	require.Equal(t, abi.Success, g.Call(ctx, "resolution", uint64(c), 8))
	assert.Equal(t, uint64(1), g.U64(8))

	require.Equal(t, abi.Success, g.Call(ctx, "now", uint64(c), 8))
	first := g.U64(8)
	require.Equal(t, abi.Success, g.Call(ctx, "sleep", uint64(c), uint64(2*time.Millisecond)))
	require.Equal(t, abi.Success, g.Call(ctx, "now", uint64(c), 8))
	assert.Greater(t, g.U64(8), first)

	require.Equal(t, abi.Success, g.Call(ctx, "elapsed", uint64(c), 8))
	assert.GreaterOrEqual(t, g.U64(8), uint64(2*time.Millisecond))

	require.Equal(t, abi.Success, g.Call(ctx, "destroy", uint64(c)))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "now", uint64(c), 8))
	assert.Equal(t, abi.ErrnoInvalidConfig, g.Call(ctx, "create", 9, 0, 0))
	// 出参指针越界
	assert.Equal(t, abi.ErrnoFault, g.Call(ctx, "create", 0, 0, 70000))
}

func TestClockSubscribe(t *testing.T) {
	g := guest(t)
	ctx := context.Background()

	require.Equal(t, abi.Success, g.Call(ctx, "create", 1, 1, 0))
	c := g.U32(0)

	require.Equal(t, abi.Success, g.Call(ctx, "subscribe", uint64(c), uint64(20*time.Millisecond), 4))
	p := g.U32(4)
	require.Equal(t, abi.Success, g.Call(ctx, "ready", uint64(p), 8))
	assert.Equal(t, uint32(0), g.U32(8))

	require.Equal(t, abi.Success, g.Call(ctx, "block", uint64(p)))
	require.Equal(t, abi.Success, g.Call(ctx, "ready", uint64(p), 8))
	assert.Equal(t, uint32(1), g.U32(8))

	require.Equal(t, abi.Success, g.Call(ctx, "drop", uint64(p)))
	assert.Equal(t, abi.ErrnoNotFound, g.Call(ctx, "drop", uint64(p)))
}
