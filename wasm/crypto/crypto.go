package elastic_crypto

import (
	"context"

	"github.com/OpenListTeam/elastic-hal/manager/crypto"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Module 返回一个配置好的 elastic:crypto 模块选项。
func Module() wasm.ModuleOption {
	return func(h *wasm.Host) {
		h.AddImplementation(&elasticCrypto{})
	}
}

// --- elastic:crypto@0.1.0 implementation ---

type elasticCrypto struct{}

func (i *elasticCrypto) Name() string       { return "elastic:crypto" }
func (i *elasticCrypto) Versions() []string { return []string{"0.1.0"} }

func keyConfig(typ, bits, secure uint32) (crypto.KeyConfig, abi.Errno) {
	if typ > 0xff {
		return crypto.KeyConfig{}, abi.ErrnoInvalidConfig
	}
	return crypto.KeyConfig{Type: crypto.KeyType(typ), Size: int(bits), SecureStorage: secure != 0}, abi.Success
}

func (i *elasticCrypto) Instantiate(_ context.Context, h *wasm.Host, b wazero.HostModuleBuilder) error {
	km := h.Keys()
	export := func(name string, fn any) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	// 形如 (key, data) -> bytes 的操作共用同一签名。
	transform := func(op func(uint32, []byte) ([]byte, error)) func(context.Context, api.Module, uint32, uint32, uint32, uint32, uint32, uint32) abi.Errno {
		return func(_ context.Context, m api.Module, k, ptr, length, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
			data, errno := abi.ReadBytes(m.Memory(), ptr, length)
			if errno != abi.Success {
				return errno
			}
			out, err := op(k, data)
			if err != nil {
				return abi.FromError(err)
			}
			return abi.WriteBuffer(m.Memory(), out, bufPtr, bufCap, outLenPtr)
		}
	}
	keyBytes := func(op func(uint32) ([]byte, error)) func(context.Context, api.Module, uint32, uint32, uint32, uint32) abi.Errno {
		return func(_ context.Context, m api.Module, k, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
			out, err := op(k)
			if err != nil {
				return abi.FromError(err)
			}
			return abi.WriteBuffer(m.Memory(), out, bufPtr, bufCap, outLenPtr)
		}
	}

	export("generate", func(_ context.Context, m api.Module, typ, bits, secure, outPtr uint32) abi.Errno {
		cfg, errno := keyConfig(typ, bits, secure)
		if errno != abi.Success {
			return errno
		}
		k, err := km.Generate(cfg)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, k)
	})
	export("import", func(_ context.Context, m api.Module, ptr, length, typ, bits, secure, outPtr uint32) abi.Errno {
		cfg, errno := keyConfig(typ, bits, secure)
		if errno != abi.Success {
			return errno
		}
		data, errno := abi.ReadBytes(m.Memory(), ptr, length)
		if errno != abi.Success {
			return errno
		}
		k, err := km.Import(data, cfg)
		clear(data)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, k)
	})
	export("export", keyBytes(km.Export))
	export("public-key", keyBytes(km.PublicKey))
	export("delete", func(_ context.Context, k uint32) abi.Errno {
		return abi.FromError(km.Delete(k))
	})
	export("encrypt", transform(km.Encrypt))
	export("decrypt", transform(km.Decrypt))
	export("sign", transform(km.Sign))
	export("verify", func(_ context.Context, m api.Module, k, dataPtr, dataLen, sigPtr, sigLen, outPtr uint32) abi.Errno {
		data, errno := abi.ReadBytes(m.Memory(), dataPtr, dataLen)
		if errno != abi.Success {
			return errno
		}
		sig, errno := abi.ReadBytes(m.Memory(), sigPtr, sigLen)
		if errno != abi.Success {
			return errno
		}
		ok, err := km.Verify(k, data, sig)
		if err != nil {
			return abi.FromError(err)
		}
		var v uint32
		if ok {
			v = 1
		}
		return abi.WriteU32(m.Memory(), outPtr, v)
	})
	export("hash", func(_ context.Context, m api.Module, alg, ptr, length, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
		if alg > 0xff {
			return abi.ErrnoInvalidConfig
		}
		data, errno := abi.ReadBytes(m.Memory(), ptr, length)
		if errno != abi.Success {
			return errno
		}
		sum, err := km.Hash(crypto.HashAlgorithm(alg), data)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteBuffer(m.Memory(), sum, bufPtr, bufCap, outLenPtr)
	})
	export("derive", func(_ context.Context, m api.Module, k, infoPtr, infoLen, bits, outPtr uint32) abi.Errno {
		info, errno := abi.ReadBytes(m.Memory(), infoPtr, infoLen)
		if errno != abi.Success {
			return errno
		}
		d, err := km.Derive(k, info, int(bits))
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, d)
	})
	return nil
}
