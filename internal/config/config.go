// Package config 读取进程配置文件。按扩展名选择 YAML 或 TOML。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/OpenListTeam/elastic-hal/backend"
	"github.com/OpenListTeam/elastic-hal/internal/logging"
	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"gopkg.in/yaml.v3"
)

type TLS struct {
	MinVersion     string   `yaml:"min_version" toml:"min_version"`
	MaxVersion     string   `yaml:"max_version" toml:"max_version"`
	CipherSuites   []string `yaml:"cipher_suites" toml:"cipher_suites"`
	VerifyPeer     *bool    `yaml:"verify_peer" toml:"verify_peer"`
	ServerName     string   `yaml:"server_name" toml:"server_name"`
	Certificate    string   `yaml:"certificate" toml:"certificate"`
	PrivateKey     string   `yaml:"private_key" toml:"private_key"`
	CACertificates []string `yaml:"ca_certificates" toml:"ca_certificates"`
	ALPN           []string `yaml:"alpn" toml:"alpn"`
}

type Server struct {
	BindHost string `yaml:"bind_host" toml:"bind_host"`
	Port     int    `yaml:"port" toml:"port"`
}

type Client struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Config is the root of the configuration file.
type Config struct {
	Log     logging.Config `yaml:"log" toml:"log"`
	Backend string         `yaml:"backend" toml:"backend"`
	TLS     TLS            `yaml:"tls" toml:"tls"`
	Server  Server         `yaml:"server" toml:"server"`
	Client  Client         `yaml:"client" toml:"client"`
}

func Default() *Config {
	return &Config{
		Log:     logging.DefaultConfig(),
		Backend: "auto",
		Server:  Server{BindHost: "0.0.0.0", Port: 8443},
		Client:  Client{Host: "127.0.0.1", Port: 8443},
	}
}

// Load 读取 path 并覆盖默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func validPort(p int) bool { return p >= 0 && p <= 65535 }

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Backend != "" && c.Backend != "auto" {
		if _, ok := knownBackend(c.Backend); !ok {
			errs = append(errs, fmt.Errorf("unknown backend %q (available: %v)", c.Backend, backend.Names()))
		}
	}
	if _, err := c.TLSConfig(); err != nil {
		errs = append(errs, err)
	}
	if (c.TLS.Certificate == "") != (c.TLS.PrivateKey == "") {
		errs = append(errs, errors.New("tls: certificate and private_key must be set together"))
	}
	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("server: port %d out of range", c.Server.Port))
	}
	if !validPort(c.Client.Port) {
		errs = append(errs, fmt.Errorf("client: port %d out of range", c.Client.Port))
	}
	return errors.Join(errs...)
}

func knownBackend(name string) (string, bool) {
	for _, n := range backend.Names() {
		if n == name {
			return n, true
		}
	}
	return "", false
}

// TLSConfig 把 TLS 段转换为握手配置。未设置的字段取 tls.DefaultConfig 的值。
func (c *Config) TLSConfig() (tls.Config, error) {
	out := tls.DefaultConfig()
	var err error
	if c.TLS.MinVersion != "" {
		if out.MinVersion, err = tls.ParseVersion(c.TLS.MinVersion); err != nil {
			return out, fmt.Errorf("tls: min_version: %w", err)
		}
	}
	if c.TLS.MaxVersion != "" {
		if out.MaxVersion, err = tls.ParseVersion(c.TLS.MaxVersion); err != nil {
			return out, fmt.Errorf("tls: max_version: %w", err)
		}
	}
	if len(c.TLS.CipherSuites) > 0 {
		out.CipherSuites = out.CipherSuites[:0]
		for _, name := range c.TLS.CipherSuites {
			s, err := tls.ParseCipherSuite(name)
			if err != nil {
				return out, fmt.Errorf("tls: cipher_suites: %w", err)
			}
			out.CipherSuites = append(out.CipherSuites, s)
		}
	}
	if c.TLS.VerifyPeer != nil {
		out.VerifyPeer = *c.TLS.VerifyPeer
	}
	out.ServerName = c.TLS.ServerName
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("tls: %w", err)
	}
	return out, nil
}
