package paird

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the pairing API binds to.
	DefaultListen = ":9520"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus
	// scrape). Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultStore points the working session store at the in-memory
	// backend when no store is provided.
	DefaultStore = "mem://"
	// DefaultSessionPrefix is prepended to minted session identifiers.
	DefaultSessionPrefix = ""
	// DefaultSettleDelay is waited before pairing-code issuance and
	// before upload so trailing credential updates can persist.
	DefaultSettleDelay = 2 * time.Second
	// DefaultReconnectBaseDelay is the backoff base after a transient
	// disconnect.
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	// DefaultReconnectMaxDelay caps the reconnect backoff.
	DefaultReconnectMaxDelay = 30 * time.Second
	// DefaultReconnectMaxAttempts bounds reconnects per pairing flow.
	DefaultReconnectMaxAttempts = 10
	// DefaultConfigFileName is the config file searched for when
	// --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the tunables for a paird Service.
type Config struct {
	// Listen is the pairing API bind address (for example ":9520").
	Listen string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// Store is the working-session backend DSN (mem://, disk://...,
	// sqlite://..., s3://..., aws://..., azure://...).
	Store string
	// Archives lists the durable archive DSNs finalized sessions are
	// exported to. At least one is required.
	Archives []string
	// SessionPrefix is prepended to every minted session identifier.
	SessionPrefix string
	// SettleDelay is the drain delay before pairing-code issuance and
	// before upload.
	SettleDelay time.Duration
	// ReconnectBaseDelay is the exponential backoff base between
	// reconnect attempts.
	ReconnectBaseDelay time.Duration
	// ReconnectMaxDelay caps reconnect backoff.
	ReconnectMaxDelay time.Duration
	// ReconnectMaxAttempts bounds reconnects per pairing flow.
	ReconnectMaxAttempts int

	// AWSRegion sets the region for aws:// stores.
	AWSRegion string
	// S3AccessKeyID sets the static S3 access key credential.
	S3AccessKeyID string
	// S3SecretAccessKey sets the static S3 secret credential.
	S3SecretAccessKey string
	// S3SessionToken sets the optional session token for temporary S3
	// credentials.
	S3SessionToken string

	// AzureAccount is the Azure storage account name.
	AzureAccount string
	// AzureAccountKey is the shared-key credential for Azure Blob.
	AzureAccountKey string
	// AzureEndpoint overrides the Azure Blob endpoint URL.
	AzureEndpoint string
	// AzureSASToken configures SAS-token auth for Azure Blob.
	AzureSASToken string
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Store) == "" {
		c.Store = DefaultStore
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
}

// DefaultConfigDir resolves the directory searched for the default
// config file. PAIRD_CONFIG_DIR overrides the per-user default.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PAIRD_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".paird"), nil
}

// Validate reports configuration errors that defaults cannot repair.
func (c Config) Validate() error {
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("config: reconnect max delay %s below base delay %s",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	return nil
}
