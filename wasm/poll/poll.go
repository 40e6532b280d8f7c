package elastic_poll

import (
	"context"
	"encoding/binary"
	"math"

	manager_io "github.com/OpenListTeam/elastic-hal/manager/io"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Module 返回一个配置好的 elastic:poll 模块选项。
func Module() wasm.ModuleOption {
	return func(h *wasm.Host) {
		h.AddImplementation(&elasticPoll{})
	}
}

// --- elastic:poll@0.1.0 implementation ---

type elasticPoll struct{}

func (i *elasticPoll) Name() string       { return "elastic:poll" }
func (i *elasticPoll) Versions() []string { return []string{"0.1.0"} }

func (i *elasticPoll) Instantiate(_ context.Context, h *wasm.Host, b wazero.HostModuleBuilder) error {
	pm := h.PollManager()
	export := func(name string, fn any) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	export("ready", func(_ context.Context, m api.Module, p, outPtr uint32) abi.Errno {
		pollable, err := pm.Get(p)
		if err != nil {
			return abi.FromError(err)
		}
		var ready uint32
		if pollable.IsReady() {
			ready = 1
		}
		return abi.WriteU32(m.Memory(), outPtr, ready)
	})

	export("block", func(ctx context.Context, p uint32) abi.Errno {
		pollable, err := pm.Get(p)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.FromError(pollable.Wait(ctx))
	})

	// poll 阻塞直到列表中至少一个 pollable 就绪，把就绪的下标依次写到 outPtr，个数写到 outLenPtr。
	// outPtr 处需要有 n 个 u32 的空间。
	export("poll", func(ctx context.Context, m api.Module, listPtr, n, outPtr, outLenPtr uint32) abi.Errno {
		if n == 0 || n > math.MaxUint32/4 {
			return abi.ErrnoInvalidConfig
		}
		raw, errno := abi.ReadBytes(m.Memory(), listPtr, n*4)
		if errno != abi.Success {
			return errno
		}
		ps := make([]manager_io.Pollable, n)
		for j := range ps {
			ph := binary.LittleEndian.Uint32(raw[4*j:])
			p, err := pm.Get(ph)
			if err != nil {
				return abi.FromError(err)
			}
			ps[j] = p
		}
		ready, err := manager_io.Any(ctx, ps)
		if err != nil {
			return abi.FromError(err)
		}
		for k, idx := range ready {
			if errno := abi.WriteU32(m.Memory(), outPtr+uint32(4*k), uint32(idx)); errno != abi.Success {
				return errno
			}
		}
		return abi.WriteU32(m.Memory(), outLenPtr, uint32(len(ready)))
	})

	export("drop", func(_ context.Context, p uint32) abi.Errno {
		if err := pm.Remove(p); err != nil {
			return abi.FromError(err)
		}
		return abi.Success
	})
	return nil
}
