// Package wasmtest 为宿主模块测试生成最小的 guest 模块：
// 每个导入函数都有一个同名导出的包装函数，guest 另外导出一页 memory。
package wasmtest

import (
	"context"
	"testing"

	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Func describes one host import. Every import returns a single i32 errno.
// Module 为空时使用 Guest 的默认模块名。
type Func struct {
	Module string
	Name   string
	Params []api.ValueType
}

// From returns f imported from module.
func (f Func) From(module string) Func {
	f.Module = module
	return f
}

// I32 returns a Func taking n i32 parameters.
func I32(name string, n int) Func {
	params := make([]api.ValueType, n)
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	return Func{Name: name, Params: params}
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, count int, body []byte) []byte {
	content := append(uleb(uint32(count)), body...)
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

// Guest encodes the module binary.
func Guest(module string, fns []Func) []byte {
	var types, imports, funcs, exports, code []byte
	n := uint32(len(fns))
	for i, f := range fns {
		types = append(types, 0x60)
		types = append(types, uleb(uint32(len(f.Params)))...)
		types = append(types, f.Params...)
		types = append(types, 0x01, api.ValueTypeI32)

		from := module
		if f.Module != "" {
			from = f.Module
		}
		imports = append(imports, name(from)...)
		imports = append(imports, name(f.Name)...)
		imports = append(imports, 0x00)
		imports = append(imports, uleb(uint32(i))...)

		funcs = append(funcs, uleb(uint32(i))...)

		exports = append(exports, name(f.Name)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(n+uint32(i))...)

		body := []byte{0x00}
		for p := range f.Params {
			body = append(body, 0x20)
			body = append(body, uleb(uint32(p))...)
		}
		body = append(body, 0x10)
		body = append(body, uleb(uint32(i))...)
		body = append(body, 0x0b)
		code = append(code, uleb(uint32(len(body)))...)
		code = append(code, body...)
	}
	exports = append(exports, name("memory")...)
	exports = append(exports, 0x02, 0x00)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, len(fns), types)...)
	out = append(out, section(2, len(fns), imports)...)
	out = append(out, section(3, len(fns), funcs)...)
	out = append(out, section(5, 1, []byte{0x00, 0x01})...)
	out = append(out, section(7, len(fns)+1, exports)...)
	out = append(out, section(10, len(fns), code)...)
	return out
}

// Instance is an instantiated guest.
type Instance struct {
	t   testing.TB
	Mod api.Module
}

// Instantiate 创建运行时、实例化 host 的所有模块和 guest。测试结束时自动关闭。
func Instantiate(t testing.TB, host *wasm.Host, module string, fns []Func) *Instance {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() {
		_ = r.Close(ctx)
		_ = host.Close()
	})
	require.NoError(t, host.Instantiate(ctx, r))
	mod, err := r.Instantiate(ctx, Guest(module, fns))
	require.NoError(t, err)
	return &Instance{t: t, Mod: mod}
}

// Call invokes a wrapper and returns its errno.
func (g *Instance) Call(ctx context.Context, fn string, args ...uint64) uint32 {
	g.t.Helper()
	f := g.Mod.ExportedFunction(fn)
	require.NotNil(g.t, f, fn)
	res, err := f.Call(ctx, args...)
	require.NoError(g.t, err, fn)
	return uint32(res[0])
}

// Put 把数据写入 guest 内存并返回 (ptr, len)。
func (g *Instance) Put(ptr uint32, data []byte) (uint64, uint64) {
	g.t.Helper()
	require.True(g.t, g.Mod.Memory().Write(ptr, data))
	return uint64(ptr), uint64(len(data))
}

func (g *Instance) U32(ptr uint32) uint32 {
	g.t.Helper()
	v, ok := g.Mod.Memory().ReadUint32Le(ptr)
	require.True(g.t, ok)
	return v
}

func (g *Instance) U64(ptr uint32) uint64 {
	g.t.Helper()
	v, ok := g.Mod.Memory().ReadUint64Le(ptr)
	require.True(g.t, ok)
	return v
}

func (g *Instance) Bytes(ptr, length uint32) []byte {
	g.t.Helper()
	b, ok := g.Mod.Memory().Read(ptr, length)
	require.True(g.t, ok)
	return append([]byte(nil), b...)
}
