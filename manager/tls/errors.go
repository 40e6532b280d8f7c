package tls

import (
	"errors"
	"fmt"

	"github.com/OpenListTeam/elastic-hal/resource"
)

// Kind classifies TLS subsystem failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidCertificate
	KindInvalidKey
	KindMissingIdentity
	KindConnectionFailed
	KindHandshakeFailed
	KindReadFailed
	KindWriteFailed
	KindUnsupportedProtocol
	KindUnsupportedCipher
	KindInvalidConfig
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidCertificate:  "invalid certificate",
	KindInvalidKey:          "invalid key",
	KindMissingIdentity:     "missing identity",
	KindConnectionFailed:    "connection failed",
	KindHandshakeFailed:     "handshake failed",
	KindReadFailed:          "read failed",
	KindWriteFailed:         "write failed",
	KindUnsupportedProtocol: "unsupported protocol",
	KindUnsupportedCipher:   "unsupported cipher",
	KindInvalidConfig:       "invalid configuration",
	KindNotFound:            "not found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error 是 TLS 子系统返回的错误类型。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("tls %s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("tls %s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("tls: %s: %v", e.Kind, e.Err)
	default:
		return "tls: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrNotFound) holds for any
// NotFound error regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidCertificate  = &Error{Kind: KindInvalidCertificate}
	ErrInvalidKey          = &Error{Kind: KindInvalidKey}
	ErrMissingIdentity     = &Error{Kind: KindMissingIdentity}
	ErrConnectionFailed    = &Error{Kind: KindConnectionFailed}
	ErrHandshakeFailed     = &Error{Kind: KindHandshakeFailed}
	ErrReadFailed          = &Error{Kind: KindReadFailed}
	ErrWriteFailed         = &Error{Kind: KindWriteFailed}
	ErrUnsupportedProtocol = &Error{Kind: KindUnsupportedProtocol}
	ErrUnsupportedCipher   = &Error{Kind: KindUnsupportedCipher}
	ErrInvalidConfig       = &Error{Kind: KindInvalidConfig}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// wrap 保留已经分类的错误；resource.ErrNotFound 一律归为 NotFound。
func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, resource.ErrNotFound) {
		return newError(KindNotFound, op, err)
	}
	return newError(kind, op, err)
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, resource.ErrNotFound) {
		return KindNotFound
	}
	return KindUnknown
}
