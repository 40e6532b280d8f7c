package elastic_tls

import (
	"context"

	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/session"
	"github.com/OpenListTeam/elastic-hal/wasm"
	"github.com/OpenListTeam/elastic-hal/wasm/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// --- elastic:tls@0.1.0 implementation ---

type elasticTLS struct{}

func NewTLS() wasm.Implementation {
	return &elasticTLS{}
}

func (i *elasticTLS) Name() string       { return "elastic:tls" }
func (i *elasticTLS) Versions() []string { return []string{"0.1.0"} }

// DecodeConfig 解析 guest 传入的握手配置：
// [min-version, max-version, verify-peer, suite...]，长度为 0 时使用默认配置。
func DecodeConfig(b []byte) (tls.Config, abi.Errno) {
	if len(b) == 0 {
		return tls.DefaultConfig(), abi.Success
	}
	if len(b) < 3 {
		return tls.Config{}, abi.ErrnoInvalidConfig
	}
	cfg := tls.Config{
		MinVersion: tls.Version(b[0]),
		MaxVersion: tls.Version(b[1]),
		VerifyPeer: b[2] != 0,
	}
	for _, s := range b[3:] {
		cfg.CipherSuites = append(cfg.CipherSuites, tls.CipherSuite(s))
	}
	if cfg.Validate() != nil {
		return tls.Config{}, abi.ErrnoInvalidConfig
	}
	return cfg, abi.Success
}

type handler struct {
	h *wasm.Host
}

func (x *handler) with(sh uint32, fn func(*session.Context) abi.Errno) abi.Errno {
	s, err := x.h.Session(sh)
	if err != nil {
		return abi.ErrnoNotFound
	}
	return fn(s)
}

func readConfig(mem api.Memory, ptr, length uint32) (tls.Config, abi.Errno) {
	b, errno := abi.ReadBytes(mem, ptr, length)
	if errno != abi.Success {
		return tls.Config{}, errno
	}
	return DecodeConfig(b)
}

func (x *handler) contextNew(_ context.Context, m api.Module, outPtr uint32) abi.Errno {
	sh, err := x.h.NewSession()
	if err != nil {
		return abi.FromError(err)
	}
	return abi.WriteU32(m.Memory(), outPtr, sh)
}

func (x *handler) contextDrop(_ context.Context, sh uint32) abi.Errno {
	return abi.FromError(x.h.DropSession(sh))
}

// 证书路径经 Host 的文件根目录解析。
func (x *handler) load(store func(*session.Context, []byte) error) func(context.Context, api.Module, uint32, uint32, uint32) abi.Errno {
	return func(_ context.Context, m api.Module, sh, pathPtr, pathLen uint32) abi.Errno {
		return x.with(sh, func(s *session.Context) abi.Errno {
			path, errno := abi.ReadString(m.Memory(), pathPtr, pathLen)
			if errno != abi.Success {
				return errno
			}
			data, err := x.h.Files().ReadFile(path)
			if err != nil {
				return abi.FromError(err)
			}
			return abi.FromError(store(s, data))
		})
	}
}

func (x *handler) bind(_ context.Context, sh, port uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		return abi.FromError(s.Bind(int(port)))
	})
}

func (x *handler) port(_ context.Context, m api.Module, sh, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		p, err := s.Port()
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, uint32(p))
	})
}

func (x *handler) accept(ctx context.Context, m api.Module, sh, cfgPtr, cfgLen, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		cfg, errno := readConfig(m.Memory(), cfgPtr, cfgLen)
		if errno != abi.Success {
			return errno
		}
		conn, err := s.Accept(ctx, cfg)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, conn)
	})
}

func (x *handler) connect(ctx context.Context, m api.Module, sh, hostPtr, hostLen, port, cfgPtr, cfgLen, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		host, errno := abi.ReadString(m.Memory(), hostPtr, hostLen)
		if errno != abi.Success {
			return errno
		}
		cfg, errno := readConfig(m.Memory(), cfgPtr, cfgLen)
		if errno != abi.Success {
			return errno
		}
		conn, err := s.Connect(ctx, host, int(port), cfg)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, conn)
	})
}

func (x *handler) startAccept(_ context.Context, m api.Module, sh, cfgPtr, cfgLen, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		cfg, errno := readConfig(m.Memory(), cfgPtr, cfgLen)
		if errno != abi.Success {
			return errno
		}
		fh, err := s.StartAccept(cfg)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, fh)
	})
}

func (x *handler) startConnect(_ context.Context, m api.Module, sh, hostPtr, hostLen, port, cfgPtr, cfgLen, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		host, errno := abi.ReadString(m.Memory(), hostPtr, hostLen)
		if errno != abi.Success {
			return errno
		}
		cfg, errno := readConfig(m.Memory(), cfgPtr, cfgLen)
		if errno != abi.Success {
			return errno
		}
		fh, err := s.StartConnect(host, int(port), cfg)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, fh)
	})
}

// futureSubscribe 把 future 的就绪信号登记为 pollable 句柄，供 elastic:poll 使用。
// 丢弃该 pollable 不影响 future 本身。
func (x *handler) futureSubscribe(_ context.Context, m api.Module, sh, fh, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		p, err := s.FuturePollable(fh)
		if err != nil {
			return abi.FromError(err)
		}
		ph, err := x.h.PollManager().Add(p)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, ph)
	})
}

// futureGet 在操作未完成时返回 ErrnoAgain。
func (x *handler) futureGet(_ context.Context, m api.Module, sh, fh, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		conn, ready, err := s.FutureGet(fh)
		if !ready && err == nil {
			return abi.ErrnoAgain
		}
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, conn)
	})
}

func (x *handler) futureDrop(_ context.Context, sh, fh uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		return abi.FromError(s.FutureDrop(fh))
	})
}

// read 最多读取 bufCap 字节；写入长度为 0 表示对端已关闭。
func (x *handler) read(ctx context.Context, m api.Module, sh, conn, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		if errno := abi.CheckBuffer(m.Memory(), bufPtr, bufCap, outLenPtr); errno != abi.Success {
			return errno
		}
		data, err := s.Read(ctx, conn, int(bufCap))
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteBuffer(m.Memory(), data, bufPtr, bufCap, outLenPtr)
	})
}

func (x *handler) write(ctx context.Context, m api.Module, sh, conn, ptr, length uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		data, errno := abi.ReadBytes(m.Memory(), ptr, length)
		if errno != abi.Success {
			return errno
		}
		return abi.FromError(s.Write(ctx, conn, data))
	})
}

func (x *handler) close(_ context.Context, sh, conn uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		return abi.FromError(s.Close(conn))
	})
}

// peerCertificate 在对端未出示证书时写入长度 0。
func (x *handler) peerCertificate(_ context.Context, m api.Module, sh, conn, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		der, err := s.PeerCertificate(conn)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteBuffer(m.Memory(), der, bufPtr, bufCap, outLenPtr)
	})
}

func (x *handler) protocolVersion(_ context.Context, m api.Module, sh, conn, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		v, err := s.ProtocolVersion(conn)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, uint32(v))
	})
}

func (x *handler) cipherSuite(_ context.Context, m api.Module, sh, conn, outPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		c, err := s.CipherSuite(conn)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteU32(m.Memory(), outPtr, uint32(c))
	})
}

func (x *handler) alpn(_ context.Context, m api.Module, sh, conn, bufPtr, bufCap, outLenPtr uint32) abi.Errno {
	return x.with(sh, func(s *session.Context) abi.Errno {
		proto, err := s.ALPN(conn)
		if err != nil {
			return abi.FromError(err)
		}
		return abi.WriteBuffer(m.Memory(), []byte(proto), bufPtr, bufCap, outLenPtr)
	})
}

func (i *elasticTLS) Instantiate(_ context.Context, h *wasm.Host, b wazero.HostModuleBuilder) error {
	x := &handler{h: h}
	export := func(name string, fn any) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	export("context-new", x.contextNew)
	export("context-drop", x.contextDrop)
	export("load-certificate", x.load(func(s *session.Context, data []byte) error {
		return s.Store().SetCertificate(data)
	}))
	export("load-private-key", x.load(func(s *session.Context, data []byte) error {
		return s.Store().SetPrivateKey(data)
	}))
	export("load-ca-certificates", x.load(func(s *session.Context, data []byte) error {
		return s.Store().AddCACertificates(data)
	}))
	export("bind", x.bind)
	export("port", x.port)
	export("accept", x.accept)
	export("connect", x.connect)
	export("start-accept", x.startAccept)
	export("start-connect", x.startConnect)
	export("future-subscribe", x.futureSubscribe)
	export("future-get", x.futureGet)
	export("future-drop", x.futureDrop)
	export("read", x.read)
	export("write", x.write)
	export("close", x.close)
	export("peer-certificate", x.peerCertificate)
	export("protocol-version", x.protocolVersion)
	export("cipher-suite", x.cipherSuite)
	export("alpn", x.alpn)
	return nil
}
