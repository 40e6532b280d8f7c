package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		kind        Kind
		accelerated bool
	}{
		{"unset", nil, KindLinux, false},
		{"set", map[string]string{EnvSEVSNP: "1"}, KindSEVSNP, true},
		{"empty value counts as set", map[string]string{EnvSEVSNP: ""}, KindSEVSNP, true},
		{"explicit zero", map[string]string{EnvSEVSNP: "0"}, KindLinux, false},
		{"explicit false", map[string]string{EnvSEVSNP: "False"}, KindLinux, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Detect(env(tt.env))
			assert.Equal(t, tt.kind, b.Kind())
			assert.Equal(t, tt.accelerated, b.AcceleratedAEAD())
			assert.Equal(t, tt.kind, b.Info().Kind)
		})
	}
}

func TestDetectReadsFlagOnce(t *testing.T) {
	calls := 0
	b := Detect(func(key string) (string, bool) {
		calls++
		require.Equal(t, EnvSEVSNP, key)
		return "1", true
	})
	require.Equal(t, 1, calls)

	// 之后查询不会再次读取环境。
	for i := 0; i < 3; i++ {
		require.True(t, b.AcceleratedAEAD())
	}
	require.Equal(t, 1, calls)
}

func TestSandboxed(t *testing.T) {
	s := Sandboxed(NewSEVSNP())
	assert.Equal(t, KindSandbox, s.Kind())
	assert.True(t, s.AcceleratedAEAD())
	assert.Equal(t, "sandbox/sev-snp", s.Name())
	assert.Equal(t, KindSandbox, s.Info().Kind)

	// 不会重复包装。
	assert.Same(t, s, Sandboxed(s))

	plain := Sandboxed(nil)
	assert.False(t, plain.AcceleratedAEAD())
}

func TestRegistry(t *testing.T) {
	b, err := New("sev-snp")
	require.NoError(t, err)
	assert.Equal(t, KindSEVSNP, b.Kind())

	b, err = New("linux")
	require.NoError(t, err)
	assert.Equal(t, KindLinux, b.Kind())

	_, err = New("")
	require.NoError(t, err)

	_, err = New("tdx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available")

	assert.Panics(t, func() { Register("linux", NewLinux) })
	assert.Contains(t, Names(), "auto")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "linux", KindLinux.String())
	assert.Equal(t, "sev-snp", KindSEVSNP.String())
	assert.Equal(t, "sandbox", KindSandbox.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
