package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/dedup"
	"github.com/shineum/mailcompose/internal/metrics"
	"github.com/shineum/mailcompose/internal/session"
	"github.com/shineum/mailcompose/internal/smtp"
	mailtls "github.com/shineum/mailcompose/internal/tls"
)

// runSink serves the development SMTP sink until ctx is cancelled.
func runSink(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sink", flag.ContinueOnError)
	listen := fs.String("listen", cfg.Sink.Listen, "address to accept SMTP connections on")
	noTLS := fs.Bool("no-tls", false, "do not offer STARTTLS")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	srvCfg := smtp.ServerConfig{
		ListenAddr:     *listen,
		Hostname:       cfg.Sink.Hostname,
		Provider:       prov,
		AuthUsername:   cfg.Sink.Username,
		AuthPassword:   cfg.Sink.Password,
		MaxMessageSize: cfg.Sink.MaxMessageSize,
		IdleTimeout:    cfg.Sink.IdleTimeout,
	}

	if !*noTLS {
		tlsConfig, err := mailtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Sink.Hostname)
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		srvCfg.TLSConfig = tlsConfig
	}

	if cfg.SMTPConfigured() {
		upstream, err := session.Build(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.ConnectionTimeout, cfg.SMTP.Timeout)
		if err != nil {
			return fmt.Errorf("invalid upstream SMTP settings: %w", err)
		}
		srvCfg.Session = upstream
	}

	if cfg.Redis.URL != "" {
		rdb, err := dedup.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		srvCfg.Dedup = dedup.NewFilter(rdb, cfg.Redis.TTL, cfg.Redis.Prefix)
	}

	slog.Info("starting mailcompose sink",
		"listen", *listen,
		"hostname", cfg.Sink.Hostname,
		"provider", prov.Name(),
		"auth_enabled", cfg.SinkAuthEnabled(),
		"tls_enabled", srvCfg.TLSConfig != nil,
	)

	// Either server failing stops the other.
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.Metrics.Listen); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return smtp.New(srvCfg).ListenAndServe(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("mailcompose sink stopped")
	return nil
}
