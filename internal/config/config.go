// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted by Config.Provider.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderResend = "resend"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend. Empty means auto-detect.
	Provider string `yaml:"provider"`

	SMTP    SMTPConfig    `yaml:"smtp"`
	Sink    SinkConfig    `yaml:"sink"`
	SES     SESConfig     `yaml:"ses"`
	Graph   GraphConfig   `yaml:"graph"`
	Resend  ResendConfig  `yaml:"resend"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig describes the outgoing mail server drafts are bound to.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	Timeout            time.Duration `yaml:"timeout"`
	TLSPolicy          string        `yaml:"tls_policy"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// SinkConfig holds the development SMTP sink configuration.
type SinkConfig struct {
	Listen         string        `yaml:"listen"`
	Hostname       string        `yaml:"hostname"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	Sender           string `yaml:"sender"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	Sender          string `yaml:"sender"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// RedisConfig enables duplicate suppression in the sink when URL is set.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// SMTPConfigured returns true if an outgoing SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// Validate reports every inconsistency in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case "", ProviderStdout:
	case ProviderSMTP:
		if !c.SMTPConfigured() {
			errs = append(errs, errors.New("smtp provider selected but smtp.host is not set"))
		}
	case ProviderSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses provider selected but ses.region and ses.sender are required"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph provider selected but tenant_id, client_id, client_secret and sender are required"))
		}
	case ProviderResend:
		if !c.ResendConfigured() {
			errs = append(errs, errors.New("resend provider selected but resend.api_key is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port %d out of range", c.SMTP.Port))
	}
	if c.SMTP.ConnectionTimeout < 0 || c.SMTP.Timeout < 0 {
		errs = append(errs, errors.New("smtp timeouts must not be negative"))
	}
	switch strings.ToLower(c.SMTP.TLSPolicy) {
	case "", "mandatory", "opportunistic", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown smtp.tls_policy %q", c.SMTP.TLSPolicy))
	}

	if c.Sink.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("sink.max_message_size must be positive"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = 25
	c.SMTP.ConnectionTimeout = 60 * time.Second
	c.SMTP.Timeout = 60 * time.Second
	c.SMTP.TLSPolicy = "mandatory"

	c.Sink.Listen = ":2525"
	c.Sink.Hostname = "localhost"
	c.Sink.MaxMessageSize = defaultMaxMessageSize
	c.Sink.IdleTimeout = 5 * time.Minute

	c.Redis.TTL = 24 * time.Hour

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	var errs []error

	envString(&c.Provider, "PROVIDER")

	envString(&c.SMTP.Host, "SMTP_HOST")
	errs = append(errs,
		envInt(&c.SMTP.Port, "SMTP_PORT"),
		envDuration(&c.SMTP.ConnectionTimeout, "SMTP_CONNECTION_TIMEOUT"),
		envDuration(&c.SMTP.Timeout, "SMTP_TIMEOUT"),
		envBool(&c.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY"),
	)
	envString(&c.SMTP.TLSPolicy, "SMTP_TLS_POLICY")
	envString(&c.SMTP.Username, "SMTP_USERNAME")
	envString(&c.SMTP.Password, "SMTP_PASSWORD")

	envString(&c.Sink.Listen, "SINK_LISTEN")
	envString(&c.Sink.Hostname, "SINK_HOSTNAME")
	envString(&c.Sink.Username, "SINK_USERNAME")
	envString(&c.Sink.Password, "SINK_PASSWORD")
	errs = append(errs,
		envInt64(&c.Sink.MaxMessageSize, "SINK_MAX_MESSAGE_SIZE"),
		envDuration(&c.Sink.IdleTimeout, "SINK_IDLE_TIMEOUT"),
	)

	envString(&c.SES.Region, "SES_REGION")
	envString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	envString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	envString(&c.SES.Sender, "SES_SENDER")
	envString(&c.SES.ConfigurationSet, "SES_CONFIGURATION_SET")

	envString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	envString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	envString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	envString(&c.Graph.Sender, "GRAPH_SENDER")
	errs = append(errs, envBool(&c.Graph.SaveToSentItems, "GRAPH_SAVE_TO_SENT_ITEMS"))

	envString(&c.Resend.APIKey, "RESEND_API_KEY")
	envString(&c.Resend.Sender, "RESEND_SENDER")

	envString(&c.Redis.URL, "REDIS_URL")
	envString(&c.Redis.Prefix, "REDIS_PREFIX")
	errs = append(errs, envDuration(&c.Redis.TTL, "REDIS_TTL"))

	envString(&c.Metrics.Listen, "METRICS_LISTEN")

	envString(&c.TLS.CertFile, "TLS_CERT_FILE")
	envString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	envString(&c.Logging.Level, "LOG_LEVEL")
	c.Logging.Level = strings.ToLower(c.Logging.Level)

	return errors.Join(errs...)
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func envInt64(dst *int64, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func envBool(dst *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}
