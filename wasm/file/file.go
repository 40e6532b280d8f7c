package elastic_file

import (
	"context"

	"github.com/OpenListTeam/elastic-hal/manager/filesystem"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// open 的 flags 位。
const (
	FlagSecure uint32 = 1 << iota
	FlagCreate
	FlagTruncate
)

// metadata 记录中的类型位。
const (
	KindFile uint32 = 1 << iota
	KindDir
)

// Module 返回一个配置好的 elastic:file 模块选项。
func Module() wasm.ModuleOption {
	return func(h *wasm.Host) {
		h.AddImplementation(&elasticFile{})
	}
}

// --- elastic:file@0.1.0 implementation ---

type elasticFile struct{}

func (i *elasticFile) Name() string       { return "elastic:file" }
func (i *elasticFile) Versions() []string { return []string{"0.1.0"} }

func (i *elasticFile) Instantiate(_ context.Context, h *wasm.Host, b wazero.HostModuleBuilder) error {
	fm := h.Files()
	export := func(name string, fn any) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	export("open", func(_ context.Context, m api.Module, pathPtr, pathLen, mode, flags, outPtr uint32) abi.Errno {
		path, errno := abi.ReadString(m.Memory(), pathPtr, pathLen)
		if errno != abi.Success {
			return errno
		}
		if mode > 0xff {
			return abi.ErrnoInvalidConfig
		}
		f, err := fm.Open(filesystem.Config{
			Path:     path,
			Mode:     filesystem.Mode(mode),
			Secure:   flags&FlagSecure != 0,
			Create:   flags&FlagCreate != 0,
			Truncate: flags&FlagTruncate != 0,
		})
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, f)
	})
	export("close", func(_ context.Context, f uint32) abi.Errno {
		return abi.FromError(fm.Close(f))
	})
	export("read", func(_ context.Context, m api.Module, f, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
		if errno := abi.CheckBuffer(m.Memory(), bufPtr, bufCap, outLenPtr); errno != abi.Success {
			return errno
		}
		data, err := fm.Read(f, int(bufCap))
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteBuffer(m.Memory(), data, bufPtr, bufCap, outLenPtr)
	})
	export("write", func(_ context.Context, m api.Module, f, ptr, length, outPtr uint32) abi.Errno {
		data, errno := abi.ReadBytes(m.Memory(), ptr, length)
		if errno != abi.Success {
			return errno
		}
		n, err := fm.Write(f, data)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, uint32(n))
	})
	export("seek", func(_ context.Context, m api.Module, f uint32, offset uint64, whence, outPtr uint32) abi.Errno {
		if whence > 0xff {
			return abi.ErrnoInvalidConfig
		}
		pos, err := fm.Seek(f, int64(offset), filesystem.Whence(whence))
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU64(m.Memory(), outPtr, pos)
	})
	export("flush", func(_ context.Context, f uint32) abi.Errno {
		return abi.FromError(fm.Flush(f))
	})
	// metadata 写入 16 字节：size u64, kind u32, permissions u32。
	export("metadata", func(_ context.Context, m api.Module, f, outPtr uint32) abi.Errno {
		md, err := fm.Metadata(f)
		if err != nil {
			return abi.FromError(err)
		}
		var kind uint32
		if md.IsFile {
			kind |= KindFile
		}
		if md.IsDir {
			kind |= KindDir
		}
		mem := m.Memory()
		if errno := abi.WriteU64(mem, outPtr, md.Size); errno != abi.Success {
			return errno
		}
		if errno := abi.WriteU32(mem, outPtr+8, kind); errno != abi.Success {
			return errno
		}
		return abi.WriteU32(mem, outPtr+12, md.Permissions)
	})
	return nil
}
