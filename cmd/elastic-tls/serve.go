package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxMessage = 64 * 1024

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "accept TLS connections and echo the first message of each",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port (default from config)"},
			&cli.IntFlag{Name: "max-conns", Usage: "exit after this many connections, 0 for no limit"},
			&cli.IntFlag{Name: "workers", Value: 16, Usage: "concurrent connection handlers"},
		},
		Action: func(c *cli.Context) error {
			rt := fromContext(c)
			tlsCfg, err := rt.cfg.TLSConfig()
			if err != nil {
				return err
			}
			s, err := newSession(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			port := rt.cfg.Server.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}
			if err := s.Bind(port); err != nil {
				return err
			}
			bound, _ := s.Port()
			fmt.Fprintf(c.App.Writer, "listening on %s:%d (%s)\n", rt.cfg.Server.BindHost, bound, s.Backend().Name())
			return serve(c.Context, s, tlsCfg, c.Int("max-conns"), c.Int("workers"), rt.logger, c.App.Writer)
		},
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// nextAcceptDelay 连续失败时从 5ms 开始翻倍，上限 1s。
func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(d*2, maxAcceptDelay)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// serve accepts until ctx is done or maxConns connections were handled. A failed
// handshake is logged and the loop continues.
func serve(ctx context.Context, s *session.Context, cfg tls.Config, maxConns, workers int, logger *zap.Logger, out io.Writer) error {
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	var delay time.Duration
	for n := 0; maxConns <= 0 || n < maxConns; {
		h, err := s.Accept(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			delay = nextAcceptDelay(delay)
			logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleepContext(ctx, delay) {
				break
			}
			continue
		}
		delay = 0
		n++
		g.Go(func() error {
			echo(ctx, s, h, logger, out)
			return nil
		})
	}
	_ = g.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func echo(ctx context.Context, s *session.Context, h uint32, logger *zap.Logger, out io.Writer) {
	defer s.Close(h)
	msg, err := s.Read(ctx, h, maxMessage)
	if err != nil {
		logger.Warn("read failed", zap.Uint32("handle", h), zap.Error(err))
		return
	}
	if err := s.Write(ctx, h, msg); err != nil {
		logger.Warn("write failed", zap.Uint32("handle", h), zap.Error(err))
		return
	}
	printInfo(out, s, h, len(msg))
}

func printInfo(out io.Writer, s *session.Context, h uint32, n int) {
	st, err := s.State(h)
	if err != nil {
		return
	}
	version, _ := tls.VersionFromWire(st.Version)
	suite, _ := tls.CipherSuiteFromWire(st.CipherSuite)
	fp, _ := s.PeerFingerprint(h)
	peer := "none"
	if fp != nil {
		peer = fmt.Sprintf("%x", fp)
	}
	fmt.Fprintf(out, "connection %d: %d bytes, %s, %s, alpn=%q, peer=%s\n", h, n, version, suite, st.ALPN, peer)
}
