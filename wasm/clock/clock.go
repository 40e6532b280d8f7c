package elastic_clock

import (
	"context"
	"time"

	"github.com/OpenListTeam/elastic-hal/manager/clock"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Module 返回一个配置好的 elastic:clock 模块选项。
func Module() wasm.ModuleOption {
	return func(h *wasm.Host) {
		h.AddImplementation(&elasticClock{})
	}
}

// --- elastic:clock@0.1.0 implementation ---

type elasticClock struct{}

func (i *elasticClock) Name() string       { return "elastic:clock" }
func (i *elasticClock) Versions() []string { return []string{"0.1.0"} }

func (i *elasticClock) Instantiate(_ context.Context, h *wasm.Host, b wazero.HostModuleBuilder) error {
	cm := h.Clocks()
	export := func(name string, fn any) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	reading := func(read func(uint32) (uint64, error)) func(context.Context, api.Module, uint32, uint32) abi.Errno {
		return func(_ context.Context, m api.Module, c, outPtr uint32) abi.Errno {
			v, err := read(c)
			if err != nil {
				return abi.FromError(err)
			}
			return abi.WriteU64(m.Memory(), outPtr, v)
		}
	}

	export("create", func(_ context.Context, m api.Module, typ, highRes, outPtr uint32) abi.Errno {
		if typ > 0xff {
			return abi.ErrnoInvalidConfig
		}
		c, err := cm.Create(clock.Config{Type: clock.Type(typ), HighResolution: highRes != 0})
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, c)
	})
	export("destroy", func(_ context.Context, c uint32) abi.Errno {
		return abi.FromError(cm.Destroy(c))
	})
	export("now", reading(cm.Now))
	export("resolution", reading(cm.Resolution))
	export("elapsed", reading(cm.Elapsed))
	export("sleep", func(ctx context.Context, c uint32, ns uint64) abi.Errno {
		return abi.FromError(cm.Sleep(ctx, c, time.Duration(ns)))
	})
	// subscribe 返回一个 elastic:poll 的 pollable 句柄。
	export("subscribe", func(_ context.Context, m api.Module, c uint32, ns uint64, outPtr uint32) abi.Errno {
		p, err := cm.Subscribe(c, time.Duration(ns))
		if err != nil {
			return abi.FromError(err)
		}
		ph, err := h.PollManager().Add(p)
		if err != nil {
			p.Close()
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, ph)
	})
	return nil
}
