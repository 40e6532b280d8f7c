// Package abi 定义 elastic:* 宿主模块与 guest 之间的调用约定：
// 参数均为 i32/i64，缓冲区以 (ptr, len) 传递，结果经出参指针写回，返回值为 Errno。
package abi

import (
	"context"
	"errors"
	"io/fs"

	"github.com/OpenListTeam/elastic-hal/manager/clock"
	"github.com/OpenListTeam/elastic-hal/manager/crypto"
	"github.com/OpenListTeam/elastic-hal/manager/filesystem"
	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/resource"
)

// Errno is the status code returned by every exported host function.
type Errno = uint32

const (
	Success Errno = iota
	ErrnoInvalidCertificate
	ErrnoInvalidKey
	ErrnoMissingIdentity
	ErrnoHandshakeFailed
	ErrnoUnsupportedCipher
	ErrnoUnsupportedProtocol
	ErrnoConnectionFailed
	ErrnoInvalidConfig
	ErrnoNotFound
	ErrnoReadFailed
	ErrnoWriteFailed
	// 以下与 TLS 无关
	ErrnoFault
	ErrnoAgain
	ErrnoRange
	ErrnoCanceled
	ErrnoTimedOut
	ErrnoNotPermitted
	ErrnoInvalidMode
	ErrnoDecrypt
	ErrnoKeyType
	ErrnoNoEntry
	ErrnoIO
)

var tlsErrno = map[tls.Kind]Errno{
	tls.KindInvalidCertificate:  ErrnoInvalidCertificate,
	tls.KindInvalidKey:          ErrnoInvalidKey,
	tls.KindMissingIdentity:     ErrnoMissingIdentity,
	tls.KindHandshakeFailed:     ErrnoHandshakeFailed,
	tls.KindUnsupportedCipher:   ErrnoUnsupportedCipher,
	tls.KindUnsupportedProtocol: ErrnoUnsupportedProtocol,
	tls.KindConnectionFailed:    ErrnoConnectionFailed,
	tls.KindInvalidConfig:       ErrnoInvalidConfig,
	tls.KindNotFound:            ErrnoNotFound,
	tls.KindReadFailed:          ErrnoReadFailed,
	tls.KindWriteFailed:         ErrnoWriteFailed,
}

// FromError maps a host error to its errno. nil maps to Success.
func FromError(err error) Errno {
	var te *tls.Error
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return ErrnoCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrnoTimedOut
	case errors.As(err, &te):
		if e, ok := tlsErrno[te.Kind]; ok {
			return e
		}
		return ErrnoIO
	case errors.Is(err, resource.ErrNotFound), errors.Is(err, crypto.ErrKeyNotFound):
		return ErrnoNotFound
	case errors.Is(err, crypto.ErrNotPermitted), errors.Is(err, fs.ErrPermission):
		return ErrnoNotPermitted
	case errors.Is(err, filesystem.ErrInvalidMode):
		return ErrnoInvalidMode
	case errors.Is(err, crypto.ErrDecrypt):
		return ErrnoDecrypt
	case errors.Is(err, crypto.ErrInvalidKeyType):
		return ErrnoKeyType
	case errors.Is(err, filesystem.ErrInvalidConfig), errors.Is(err, crypto.ErrInvalidConfig),
		errors.Is(err, clock.ErrInvalidConfig):
		return ErrnoInvalidConfig
	case errors.Is(err, fs.ErrNotExist):
		return ErrnoNoEntry
	default:
		return ErrnoIO
	}
}
