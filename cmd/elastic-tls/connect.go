package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/OpenListTeam/elastic-hal/session"
	"github.com/urfave/cli/v2"
)

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "connect, send one message and print the reply",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "server host (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "server port (default from config)"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Value: "hello"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
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

			host, port := rt.cfg.Client.Host, rt.cfg.Client.Port
			if c.IsSet("host") {
				host = c.String("host")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			return connect(ctx, s, host, port, tlsCfg, []byte(c.String("message")), c.App.Writer)
		},
	}
}

func connect(ctx context.Context, s *session.Context, host string, port int, cfg tls.Config, msg []byte, out io.Writer) error {
	h, err := s.Connect(ctx, host, port, cfg)
	if err != nil {
		return err
	}
	defer s.Close(h)

	if err := s.Write(ctx, h, msg); err != nil {
		return err
	}
	reply, err := s.Read(ctx, h, maxMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reply: %s\n", reply)
	printInfo(out, s, h, len(reply))
	return nil
}
