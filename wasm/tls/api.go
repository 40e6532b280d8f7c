package elastic_tls

import (
	"github.com/OpenListTeam/elastic-hal/wasm"
)

// Module 返回一个配置好的 elastic:tls 模块选项。
func Module() wasm.ModuleOption {
	return func(h *wasm.Host) {
		h.AddImplementation(NewTLS())
	}
}
