package tls

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	stdtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

var storeSeq atomic.Uint64

// Identity 是证书链与匹配的私钥。
type Identity struct {
	// Chain 为 DER 编码的证书链，叶子证书在前。
	Chain [][]byte
	Leaf  *x509.Certificate
	Key   crypto.Signer

	source, generation uint64
}

// TLSCertificate converts the identity into the form crypto/tls expects.
func (id *Identity) TLSCertificate() stdtls.Certificate {
	return stdtls.Certificate{
		Certificate: id.Chain,
		PrivateKey:  id.Key,
		Leaf:        id.Leaf,
	}
}

// TrustStore is an immutable snapshot of the loaded CA set.
type TrustStore struct {
	Pool       *x509.CertPool
	Generation uint64
	count      int
	source     uint64
}

// Len returns the number of CA certificates in the snapshot.
func (t *TrustStore) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// CertificateStore 持有本端身份（证书链 + 私钥）和信任的 CA 集合。
// 证书与私钥为后写覆盖，CA 只追加。
type CertificateStore struct {
	mu sync.RWMutex
	id uint64

	chain [][]byte
	leaf  *x509.Certificate
	key   crypto.Signer

	cas        []*x509.Certificate
	identityGn uint64
	trustGn    uint64
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{id: storeSeq.Add(1)}
}

// LoadCertificate reads a PEM (or raw DER) certificate chain from path, leaf first.
func (s *CertificateStore) LoadCertificate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindInvalidCertificate, "load-certificate", err)
	}
	return s.SetCertificate(data)
}

// SetCertificate 与 LoadCertificate 相同，但直接接收文件内容。
func (s *CertificateStore) SetCertificate(data []byte) error {
	certs, err := parseCertificates(data)
	if err != nil {
		return newError(KindInvalidCertificate, "load-certificate", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chain := make([][]byte, len(certs))
	for i, c := range certs {
		chain[i] = c.Raw
	}
	s.chain = chain
	s.leaf = certs[0]
	s.identityGn++
	return nil
}

// LoadPrivateKey reads a PKCS#8, PKCS#1 or SEC 1 private key from path.
func (s *CertificateStore) LoadPrivateKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindInvalidKey, "load-private-key", err)
	}
	return s.SetPrivateKey(data)
}

func (s *CertificateStore) SetPrivateKey(data []byte) error {
	key, err := parsePrivateKey(data)
	if err != nil {
		return newError(KindInvalidKey, "load-private-key", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.identityGn++
	return nil
}

// LoadCACertificates appends every certificate in path to the trust store.
func (s *CertificateStore) LoadCACertificates(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindInvalidCertificate, "load-ca-certificates", err)
	}
	return s.AddCACertificates(data)
}

func (s *CertificateStore) AddCACertificates(data []byte) error {
	certs, err := parseCertificates(data)
	if err != nil {
		return newError(KindInvalidCertificate, "load-ca-certificates", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cas = append(s.cas, certs...)
	s.trustGn++
	return nil
}

// HasIdentity reports whether both a certificate and a private key are loaded.
func (s *CertificateStore) HasIdentity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaf != nil && s.key != nil
}

// Certificate 返回本端叶子证书的 DER 副本，未加载时返回 nil。
func (s *CertificateStore) Certificate() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chain) == 0 {
		return nil
	}
	return bytes.Clone(s.chain[0])
}

// ServerIdentity returns the loaded identity, or MissingIdentity when the certificate
// or key is absent. A key that does not match the certificate is InvalidKey.
func (s *CertificateStore) ServerIdentity() (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.leaf == nil || s.key == nil {
		return nil, newError(KindMissingIdentity, "server-identity", nil)
	}
	if !publicKeysEqual(s.leaf.PublicKey, s.key.Public()) {
		return nil, newError(KindInvalidKey, "server-identity", errors.New("private key does not match certificate"))
	}
	chain := make([][]byte, len(s.chain))
	copy(chain, s.chain)
	return &Identity{Chain: chain, Leaf: s.leaf, Key: s.key, source: s.id, generation: s.identityGn}, nil
}

// TrustStore 返回当前 CA 集合的快照。
func (s *CertificateStore) TrustStore() *TrustStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool := x509.NewCertPool()
	for _, c := range s.cas {
		pool.AddCert(c)
	}
	return &TrustStore{Pool: pool, Generation: s.trustGn, count: len(s.cas), source: s.id}
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	sawPEM := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawPEM = true
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if !sawPEM {
		// 非 PEM 时按 DER 尝试
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, err
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate found")
	}
	return certs, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	der := data
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "PRIVATE KEY" || block.Type == "RSA PRIVATE KEY" || block.Type == "EC PRIVATE KEY" {
			der = block.Bytes
			break
		}
	}

	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return signer, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("no PKCS#8, PKCS#1 or EC private key found")
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch k := a.(type) {
	case *rsa.PublicKey:
		return k.Equal(b)
	case *ecdsa.PublicKey:
		return k.Equal(b)
	case ed25519.PublicKey:
		return k.Equal(b)
	default:
		return false
	}
}
