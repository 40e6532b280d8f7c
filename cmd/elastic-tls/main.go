// Command elastic-tls 是 session 包的演示程序：serve 回显每个连接的第一条消息，connect 发送一条消息并打印回应。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenListTeam/elastic-hal/backend"
	"github.com/OpenListTeam/elastic-hal/internal/config"
	"github.com/OpenListTeam/elastic-hal/internal/logging"
	"github.com/OpenListTeam/elastic-hal/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	app := &cli.App{
		Name:  "elastic-tls",
		Usage: "TLS sessions over the elastic HAL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or TOML config file", EnvVars: []string{"ELASTIC_TLS_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level from the config"},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			c.App.Metadata = map[string]any{"runtime": &runtime{cfg: cfg, logger: logger}}
			return nil
		},
		After: func(c *cli.Context) error {
			if rt, ok := c.App.Metadata["runtime"].(*runtime); ok {
				_ = rt.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{serveCommand(), connectCommand()},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "elastic-tls:", err)
		os.Exit(1)
	}
}

func fromContext(c *cli.Context) *runtime {
	return c.App.Metadata["runtime"].(*runtime)
}

// newSession 按配置创建会话并加载证书材料。
func newSession(cfg *config.Config, logger *zap.Logger) (*session.Context, error) {
	b, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{
		session.WithBackend(b),
		session.WithLogger(logger),
		session.WithBindHost(cfg.Server.BindHost),
	}
	if len(cfg.TLS.ALPN) > 0 {
		opts = append(opts, session.WithALPN(cfg.TLS.ALPN...))
	}
	s := session.New(opts...)
	if err := loadMaterial(s, cfg); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return s, nil
}

func loadMaterial(s *session.Context, cfg *config.Config) error {
	if cfg.TLS.Certificate != "" {
		if err := s.LoadCertificate(cfg.TLS.Certificate); err != nil {
			return err
		}
		if err := s.LoadPrivateKey(cfg.TLS.PrivateKey); err != nil {
			return err
		}
	}
	for _, ca := range cfg.TLS.CACertificates {
		if err := s.LoadCACertificates(ca); err != nil {
			return err
		}
	}
	return nil
}
