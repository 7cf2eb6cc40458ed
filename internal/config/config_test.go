package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEnvVars = []string{
	"PROVIDER",
	"SMTP_HOST", "SMTP_PORT", "SMTP_CONNECTION_TIMEOUT", "SMTP_TIMEOUT", "SMTP_TLS_POLICY",
	"SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_INSECURE_SKIP_VERIFY",
	"SINK_LISTEN", "SINK_HOSTNAME", "SINK_USERNAME", "SINK_PASSWORD",
	"SINK_MAX_MESSAGE_SIZE", "SINK_IDLE_TIMEOUT",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER", "SES_CONFIGURATION_SET",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "GRAPH_SAVE_TO_SENT_ITEMS",
	"RESEND_API_KEY", "RESEND_SENDER",
	"REDIS_URL", "REDIS_TTL", "REDIS_PREFIX",
	"METRICS_LISTEN", "TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Provider)
	assert.Empty(t, cfg.SMTP.Host)
	assert.Equal(t, 25, cfg.SMTP.Port)
	assert.Equal(t, 60*time.Second, cfg.SMTP.ConnectionTimeout)
	assert.Equal(t, 60*time.Second, cfg.SMTP.Timeout)
	assert.Equal(t, "mandatory", cfg.SMTP.TLSPolicy)
	assert.Equal(t, ":2525", cfg.Sink.Listen)
	assert.Equal(t, "localhost", cfg.Sink.Hostname)
	assert.Equal(t, int64(26214400), cfg.Sink.MaxMessageSize)
	assert.Equal(t, 5*time.Minute, cfg.Sink.IdleTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.SinkAuthEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDER", "smtp")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("SMTP_TIMEOUT", "15s")
	t.Setenv("SMTP_TLS_POLICY", "opportunistic")
	t.Setenv("SMTP_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("SINK_LISTEN", ":9025")
	t.Setenv("SINK_USERNAME", "admin")
	t.Setenv("SINK_PASSWORD", "secret123")
	t.Setenv("SINK_MAX_MESSAGE_SIZE", "10485760")
	t.Setenv("GRAPH_SAVE_TO_SENT_ITEMS", "1")
	t.Setenv("RESEND_API_KEY", "re_123")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_TTL", "1h")
	t.Setenv("METRICS_LISTEN", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderSMTP, cfg.Provider)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 15*time.Second, cfg.SMTP.Timeout)
	assert.Equal(t, 60*time.Second, cfg.SMTP.ConnectionTimeout)
	assert.Equal(t, "opportunistic", cfg.SMTP.TLSPolicy)
	assert.True(t, cfg.SMTP.InsecureSkipVerify)
	assert.Equal(t, ":9025", cfg.Sink.Listen)
	assert.True(t, cfg.SinkAuthEnabled())
	assert.Equal(t, int64(10485760), cfg.Sink.MaxMessageSize)
	assert.True(t, cfg.Graph.SaveToSentItems)
	assert.True(t, cfg.ResendConfigured())
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("SINK_IDLE_TIMEOUT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_PORT")
	assert.Contains(t, err.Error(), "SINK_IDLE_TIMEOUT")
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
provider: ses
smtp:
  host: relay.example.com
  port: 2587
  timeout: 30s
ses:
  region: us-east-1
  sender: noreply@example.com
  configuration_set: tracking
sink:
  hostname: sink.example.com
  max_message_size: 1024
logging:
  level: warn
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderSES, cfg.Provider)
	assert.Equal(t, "relay.example.com", cfg.SMTP.Host)
	assert.Equal(t, 2587, cfg.SMTP.Port)
	assert.Equal(t, 30*time.Second, cfg.SMTP.Timeout)
	assert.Equal(t, "tracking", cfg.SES.ConfigurationSet)
	assert.Equal(t, "sink.example.com", cfg.Sink.Hostname)
	assert.Equal(t, ":2525", cfg.Sink.Listen)
	assert.Equal(t, int64(1024), cfg.Sink.MaxMessageSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.SESConfigured())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_HOST", "env.example.com")

	cfg, err := LoadFromFile(writeConfig(t, "smtp:\n  host: yaml.example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.SMTP.Host)
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadFromFile(writeConfig(t, "smtp: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "unknown provider", mutate: func(c *Config) { c.Provider = "pigeon" }, wantErr: `unknown provider "pigeon"`},
		{name: "smtp without host", mutate: func(c *Config) { c.Provider = ProviderSMTP }, wantErr: "smtp.host is not set"},
		{name: "ses without region", mutate: func(c *Config) { c.Provider = ProviderSES }, wantErr: "ses.region and ses.sender are required"},
		{name: "graph incomplete", mutate: func(c *Config) {
			c.Provider = ProviderGraph
			c.Graph.TenantID = "tid"
		}, wantErr: "graph provider selected"},
		{name: "resend without key", mutate: func(c *Config) { c.Provider = ProviderResend }, wantErr: "resend.api_key is not set"},
		{name: "port out of range", mutate: func(c *Config) { c.SMTP.Port = 70000 }, wantErr: "smtp.port 70000 out of range"},
		{name: "negative timeout", mutate: func(c *Config) { c.SMTP.Timeout = -time.Second }, wantErr: "must not be negative"},
		{name: "bad tls policy", mutate: func(c *Config) { c.SMTP.TLSPolicy = "sometimes" }, wantErr: `unknown smtp.tls_policy "sometimes"`},
		{name: "zero max size", mutate: func(c *Config) { c.Sink.MaxMessageSize = 0 }, wantErr: "must be positive"},
		{name: "cert without key", mutate: func(c *Config) { c.TLS.CertFile = "cert.pem" }, wantErr: "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Provider = ProviderSMTP
	cfg.SMTP.Port = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp.host is not set")
	assert.Contains(t, err.Error(), "smtp.port 0 out of range")
}
