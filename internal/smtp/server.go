package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/mailcompose/internal/provider"
	mailsession "github.com/shineum/mailcompose/internal/session"
)

const (
	// shutdownTimeout bounds the wait for in-flight sessions on shutdown.
	shutdownTimeout = 30 * time.Second

	// DefaultMaxMessageSize is the DATA limit when none is configured.
	DefaultMaxMessageSize = 10 << 20

	// DefaultIdleTimeout is how long a connection may sit between commands.
	DefaultIdleTimeout = 5 * time.Minute
)

// Deduplicator remembers accepted Message-IDs.
type Deduplicator interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// ServerConfig holds the configuration for the sink.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is announced in the greeting and becomes the host name of
	// every draft built from received mail.
	Hostname string

	// Provider delivers the built messages.
	Provider provider.Provider

	// Session, when set, is attached to every draft and takes over the
	// host name. The smtp provider reads its upstream relay from it.
	Session *mailsession.Session

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If either is empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// MaxMessageSize limits DATA in bytes.
	MaxMessageSize int64

	// IdleTimeout is the per-command read deadline.
	IdleTimeout time.Duration

	// Dedup, when set, drops messages whose Message-ID was already accepted.
	Dedup Deduplicator
}

// Server accepts SMTP connections and runs a session per connection.
type Server struct {
	config ServerConfig
	auth   *Authenticator

	mu       sync.Mutex
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a Server, filling in defaults for unset limits.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
}

// ListenAndServe listens on ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation it
// closes ln and waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.Provider == nil {
		_ = ln.Close()
		return errors.New("smtp: no provider configured")
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP sink listening",
		"addr", ln.Addr().String(),
		"provider", s.config.Provider.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"dedup_enabled", s.config.Dedup != nil,
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP sink")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).handle(ctx)
		}()
	}
}

// waitForSessions waits for in-flight sessions, giving up after
// shutdownTimeout.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
