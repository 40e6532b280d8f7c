package io

import (
	"errors"
	"io"
)

// MultiCloser 按注册顺序关闭多个 io.Closer，并合并错误。
type MultiCloser struct {
	closers []io.Closer
}

// NewMultiCloser 创建 MultiCloser，nil 会被忽略。
func NewMultiCloser(closers ...io.Closer) *MultiCloser {
	mc := &MultiCloser{}
	mc.Add(closers...)
	return mc
}

// Add appends closers, skipping nil.
func (m *MultiCloser) Add(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			m.closers = append(m.closers, c)
		}
	}
}

// Close closes every closer even if an earlier one fails.
func (m *MultiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

// CloserFunc 把普通函数适配为 io.Closer。
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
