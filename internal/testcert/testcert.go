// Package testcert generates a throwaway PKI (CA, server leaf, client leaf) for tests.
package testcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// Pair 是一张证书及其私钥的 PEM 文件路径。
type Pair struct {
	CertFile string
	KeyFile  string
	// DER 是证书的 DER 编码。
	DER []byte
}

// PKI holds the generated files.
type PKI struct {
	Dir    string
	CAFile string
	CA     *x509.Certificate
	Server Pair
	Client Pair
	// Other 是另一个无关 CA 签发的服务端证书，用于信任失败的场景。
	Other Pair
}

type authority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

var serial atomic.Int64

// New writes a CA, a server and a client certificate (SANs localhost and 127.0.0.1)
// into t.TempDir().
func New(t testing.TB) *PKI {
	t.Helper()
	dir := t.TempDir()

	ca := newAuthority(t, "elastic-hal test CA")
	other := newAuthority(t, "unrelated CA")

	p := &PKI{Dir: dir, CA: ca.cert}
	p.CAFile = filepath.Join(dir, "ca.crt")
	writePEM(t, p.CAFile, "CERTIFICATE", ca.cert.Raw)

	p.Server = issue(t, dir, "server", ca, x509.ExtKeyUsageServerAuth)
	p.Client = issue(t, dir, "client", ca, x509.ExtKeyUsageClientAuth)
	p.Other = issue(t, dir, "other", other, x509.ExtKeyUsageServerAuth)
	return p
}

func nextSerial() *big.Int {
	return big.NewInt(time.Now().UnixNano() + serial.Add(1))
}

func newAuthority(t testing.TB, cn string) authority {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA: %v", err)
	}
	return authority{cert: cert, key: key}
}

func issue(t testing.TB, dir, name string, ca authority, usage x509.ExtKeyUsage) Pair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate %s key: %v", name, err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("create %s certificate: %v", name, err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal %s key: %v", name, err)
	}

	pair := Pair{
		CertFile: filepath.Join(dir, name+".crt"),
		KeyFile:  filepath.Join(dir, name+".key"),
		DER:      der,
	}
	writePEM(t, pair.CertFile, "CERTIFICATE", der)
	writePEM(t, pair.KeyFile, "PRIVATE KEY", pkcs8)
	return pair
}

func writePEM(t testing.TB, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
