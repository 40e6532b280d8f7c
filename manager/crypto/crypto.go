// Package crypto 以句柄管理密钥：对称加解密、签名、HMAC、哈希与派生。
// 私钥材料只在本包内存中保存，不写日志。
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/OpenListTeam/elastic-hal/resource"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyNotFound    = errors.New("crypto: key not found")
	ErrNotPermitted   = errors.New("crypto: operation not permitted for key in secure storage")
	ErrInvalidKeyType = errors.New("crypto: key type does not support operation")
	ErrInvalidConfig  = errors.New("crypto: invalid key configuration")
	ErrDecrypt        = errors.New("crypto: message authentication failed")
)

type KeyType uint8

const (
	KeySymmetric KeyType = iota
	KeyAsymmetric
	KeyHmac
)

func (t KeyType) String() string {
	switch t {
	case KeySymmetric:
		return "symmetric"
	case KeyAsymmetric:
		return "asymmetric"
	case KeyHmac:
		return "hmac"
	default:
		return fmt.Sprintf("key-type(%d)", uint8(t))
	}
}

// KeyConfig 描述要生成或导入的密钥。Size 以比特计，0 表示默认值。
type KeyConfig struct {
	Type          KeyType
	Size          int
	SecureStorage bool
}

type HashAlgorithm uint8

const (
	SHA256 HashAlgorithm = iota
	SHA384
	SHA512
)

func (a HashAlgorithm) new() (func() hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New, nil
	case SHA384:
		return sha512.New384, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: hash algorithm %d", ErrInvalidConfig, a)
	}
}

// 密文首字节标记所用的 AEAD。
const (
	algAES256GCM byte = 1
	algChaCha20  byte = 2
)

type key struct {
	cfg      KeyConfig
	material []byte
	signer   ed25519.PrivateKey
}

// Manager holds keys by handle.
type Manager struct {
	keys        *resource.Manager[*key]
	accelerated bool
	rand        io.Reader
	logger      *zap.Logger
}

type Option func(*Manager)

// WithAccelerated 在支持 AES 硬件加速的后端上选择 AES-256-GCM。
func WithAccelerated(accelerated bool) Option {
	return func(m *Manager) { m.accelerated = accelerated }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{rand: rand.Reader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("crypto")
	m.keys = resource.NewManager[*key](func(k *key) {
		clear(k.material)
		clear(k.signer)
	})
	return m
}

func normalizeSize(cfg KeyConfig) (KeyConfig, error) {
	switch cfg.Type {
	case KeySymmetric:
		if cfg.Size == 0 {
			cfg.Size = 256
		}
		if cfg.Size != 128 && cfg.Size != 256 {
			return cfg, fmt.Errorf("%w: symmetric size %d", ErrInvalidConfig, cfg.Size)
		}
	case KeyAsymmetric:
		if cfg.Size == 0 {
			cfg.Size = 256
		}
		if cfg.Size != 256 {
			return cfg, fmt.Errorf("%w: ed25519 size %d", ErrInvalidConfig, cfg.Size)
		}
	case KeyHmac:
		if cfg.Size == 0 {
			cfg.Size = 256
		}
		if cfg.Size < 128 || cfg.Size%8 != 0 {
			return cfg, fmt.Errorf("%w: hmac size %d", ErrInvalidConfig, cfg.Size)
		}
	default:
		return cfg, fmt.Errorf("%w: %s", ErrInvalidConfig, cfg.Type)
	}
	return cfg, nil
}

func (m *Manager) add(k *key) (uint32, error) {
	h, err := m.keys.Add(k)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("key added", zap.Uint32("handle", h), zap.Stringer("type", k.cfg.Type),
		zap.Int("bits", k.cfg.Size), zap.Bool("secure", k.cfg.SecureStorage))
	return h, nil
}

func (m *Manager) get(h uint32) (*key, error) {
	k, err := m.keys.Get(h)
	if errors.Is(err, resource.ErrNotFound) {
		return nil, fmt.Errorf("%w: handle %d", ErrKeyNotFound, h)
	}
	return k, err
}

// Generate creates a random key and returns its handle.
func (m *Manager) Generate(cfg KeyConfig) (uint32, error) {
	cfg, err := normalizeSize(cfg)
	if err != nil {
		return 0, err
	}
	k := &key{cfg: cfg}
	if cfg.Type == KeyAsymmetric {
		_, priv, err := ed25519.GenerateKey(m.rand)
		if err != nil {
			return 0, err
		}
		k.signer = priv
	} else {
		k.material = make([]byte, cfg.Size/8)
		if _, err := io.ReadFull(m.rand, k.material); err != nil {
			return 0, err
		}
	}
	return m.add(k)
}

// Import 导入原始密钥材料。非对称密钥接受 32 字节种子或 64 字节私钥。
func (m *Manager) Import(data []byte, cfg KeyConfig) (uint32, error) {
	if cfg.Size == 0 && cfg.Type != KeyAsymmetric {
		cfg.Size = len(data) * 8
	}
	cfg, err := normalizeSize(cfg)
	if err != nil {
		return 0, err
	}
	k := &key{cfg: cfg}
	switch cfg.Type {
	case KeyAsymmetric:
		switch len(data) {
		case ed25519.SeedSize:
			k.signer = ed25519.NewKeyFromSeed(data)
		case ed25519.PrivateKeySize:
			k.signer = ed25519.NewKeyFromSeed(data[:ed25519.SeedSize])
		default:
			return 0, fmt.Errorf("%w: ed25519 key of %d bytes", ErrInvalidConfig, len(data))
		}
	default:
		if len(data)*8 != cfg.Size {
			return 0, fmt.Errorf("%w: %d bytes for %d-bit key", ErrInvalidConfig, len(data), cfg.Size)
		}
		k.material = append([]byte(nil), data...)
	}
	return m.add(k)
}

// Export 返回密钥材料的副本；非对称密钥导出种子。
func (m *Manager) Export(h uint32) ([]byte, error) {
	k, err := m.get(h)
	if err != nil {
		return nil, err
	}
	if k.cfg.SecureStorage {
		return nil, ErrNotPermitted
	}
	if k.signer != nil {
		return append([]byte(nil), k.signer.Seed()...), nil
	}
	return append([]byte(nil), k.material...), nil
}

// PublicKey returns the Ed25519 public key of an asymmetric key.
func (m *Manager) PublicKey(h uint32) ([]byte, error) {
	k, err := m.get(h)
	if err != nil {
		return nil, err
	}
	if k.signer == nil {
		return nil, ErrInvalidKeyType
	}
	return append([]byte(nil), k.signer.Public().(ed25519.PublicKey)...), nil
}

func (m *Manager) Delete(h uint32) error {
	if err := m.keys.Remove(h); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return fmt.Errorf("%w: handle %d", ErrKeyNotFound, h)
		}
		return err
	}
	return nil
}

func aeadFor(alg byte, material []byte) (cipher.AEAD, error) {
	switch alg {
	case algAES256GCM:
		block, err := aes.NewCipher(material)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case algChaCha20:
		return chacha20poly1305.New(material)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm tag %d", ErrDecrypt, alg)
	}
}

// Encrypt seals data with a fresh random nonce. Output is tag || nonce || ciphertext.
// 128 位密钥总是使用 AES-GCM；256 位密钥在加速后端上使用 AES-256-GCM，否则使用 ChaCha20-Poly1305。
func (m *Manager) Encrypt(h uint32, data []byte) ([]byte, error) {
	k, err := m.get(h)
	if err != nil {
		return nil, err
	}
	if k.cfg.Type != KeySymmetric {
		return nil, ErrInvalidKeyType
	}
	alg := algChaCha20
	if m.accelerated || len(k.material) != chacha20poly1305.KeySize {
		alg = algAES256GCM
	}
	aead, err := aeadFor(alg, k.material)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(data)+aead.Overhead())
	out[0] = alg
	if _, err := io.ReadFull(m.rand, out[1:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[1:], data, nil), nil
}

func (m *Manager) Decrypt(h uint32, data []byte) ([]byte, error) {
	k, err := m.get(h)
	if err != nil {
		return nil, err
	}
	if k.cfg.Type != KeySymmetric {
		return nil, ErrInvalidKeyType
	}
	if len(data) == 0 {
		return nil, ErrDecrypt
	}
	aead, err := aeadFor(data[0], k.material)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(data) < 1+ns+aead.Overhead() {
		return nil, ErrDecrypt
	}
	plain, err := aead.Open(nil, data[1:1+ns], data[1+ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Sign 对非对称密钥使用 Ed25519，对 HMAC 密钥使用 HMAC-SHA256。
func (m *Manager) Sign(h uint32, data []byte) ([]byte, error) {
	k, err := m.get(h)
	if err != nil {
		return nil, err
	}
	switch k.cfg.Type {
	case KeyAsymmetric:
		return ed25519.Sign(k.signer, data), nil
	case KeyHmac:
		mac := hmac.New(sha256.New, k.material)
		mac.Write(data)
		return mac.Sum(nil), nil
	default:
		return nil, ErrInvalidKeyType
	}
}

// Verify reports whether sig is valid for data. A bad signature is not an error.
func (m *Manager) Verify(h uint32, data, sig []byte) (bool, error) {
	k, err := m.get(h)
	if err != nil {
		return false, err
	}
	switch k.cfg.Type {
	case KeyAsymmetric:
		return ed25519.Verify(k.signer.Public().(ed25519.PublicKey), data, sig), nil
	case KeyHmac:
		mac := hmac.New(sha256.New, k.material)
		mac.Write(data)
		return hmac.Equal(mac.Sum(nil), sig), nil
	default:
		return false, ErrInvalidKeyType
	}
}

// Hash 不需要密钥句柄。
func (m *Manager) Hash(alg HashAlgorithm, data []byte) ([]byte, error) {
	newHash, err := alg.new()
	if err != nil {
		return nil, err
	}
	hh := newHash()
	hh.Write(data)
	return hh.Sum(nil), nil
}

// Derive expands a symmetric or HMAC key with HKDF-SHA256 into a new symmetric key of
// size bits. The derived key inherits the parent's secure-storage flag.
func (m *Manager) Derive(h uint32, info []byte, size int) (uint32, error) {
	k, err := m.get(h)
	if err != nil {
		return 0, err
	}
	if k.material == nil {
		return 0, ErrInvalidKeyType
	}
	cfg, err := normalizeSize(KeyConfig{Type: KeySymmetric, Size: size, SecureStorage: k.cfg.SecureStorage})
	if err != nil {
		return 0, err
	}
	derived := make([]byte, cfg.Size/8)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.material, nil, info), derived); err != nil {
		return 0, fmt.Errorf("derive key: %w", err)
	}
	return m.add(&key{cfg: cfg, material: derived})
}

func (m *Manager) Len() int {
	return m.keys.Len()
}

// Shutdown 清除所有密钥。
func (m *Manager) Shutdown() {
	m.keys.Clear()
}
