// Package main is the entry point for the mailcompose command: it composes
// and delivers a single message (send) or runs the development SMTP sink
// (sink).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/provider"
	"github.com/shineum/mailcompose/internal/provider/graph"
	"github.com/shineum/mailcompose/internal/provider/relay"
	"github.com/shineum/mailcompose/internal/provider/resend"
	"github.com/shineum/mailcompose/internal/provider/ses"
	"github.com/shineum/mailcompose/internal/provider/stdout"
)

const usage = `usage: mailcompose [-config file] <command> [flags]

commands:
  send   compose a message from flags and deliver it
  sink   run the development SMTP sink
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("mailcompose failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mailcompose", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogger(cfg.Logging.Level)

	switch cmd, rest := fs.Arg(0), fs.Args()[1:]; cmd {
	case "send":
		return runSend(ctx, cfg, rest, os.Stdout)
	case "sink":
		return runSink(ctx, cfg, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveProvider returns the configured provider name. When none is set it
// auto-detects in the order graph, ses, resend, smtp and falls back to
// stdout.
func resolveProvider(cfg *config.Config) string {
	if cfg.Provider != "" {
		return cfg.Provider
	}
	switch {
	case cfg.GraphConfigured():
		return config.ProviderGraph
	case cfg.SESConfigured():
		return config.ProviderSES
	case cfg.ResendConfigured():
		return config.ProviderResend
	case cfg.SMTPConfigured():
		return config.ProviderSMTP
	default:
		return config.ProviderStdout
	}
}

// selectProvider constructs the delivery backend chosen by resolveProvider.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	name := resolveProvider(cfg)

	switch name {
	case config.ProviderSMTP:
		slog.Info("using SMTP provider", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port, "tls_policy", cfg.SMTP.TLSPolicy)
		return relay.New(relay.Config{
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			TLSPolicy:          cfg.SMTP.TLSPolicy,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})

	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SES.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(ctx, graph.Config{
			TenantID:        cfg.Graph.TenantID,
			ClientID:        cfg.Graph.ClientID,
			ClientSecret:    cfg.Graph.ClientSecret,
			Sender:          cfg.Graph.Sender,
			SaveToSentItems: cfg.Graph.SaveToSentItems,
		}), nil

	case config.ProviderResend:
		slog.Info("using Resend provider", "sender", cfg.Resend.Sender)
		return resend.New(resend.Config{
			APIKey: cfg.Resend.APIKey,
			Sender: cfg.Resend.Sender,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
