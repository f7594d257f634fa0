package clients

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"netsync/internal/sync/utils"
)

// InventoryConfig holds configuration for the inventory REST client
type InventoryConfig struct {
	BaseURL        string        `yaml:"base_url" env:"REMOTE_BASE_URL"`
	Token          string        `yaml:"token" env:"REMOTE_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REMOTE_REQUEST_TIMEOUT" env-default:"30s"`

	// RateLimit is the sustained requests per second, Burst the bucket size
	RateLimit float64 `yaml:"rate_limit" env:"REMOTE_RATE_LIMIT" env-default:"20"`
	Burst     int     `yaml:"burst" env:"REMOTE_BURST" env-default:"10"`

	// PageSize is the limit sent with list requests
	PageSize int `yaml:"page_size" env:"REMOTE_PAGE_SIZE" env-default:"500"`

	// Retry applies to reads. Writes are retried by the batch applier.
	Retry utils.RetryConfig `yaml:"retry" env-prefix:"REMOTE_RETRY_"`

	TLS TLSConfig `yaml:"tls" env-prefix:"REMOTE_TLS_"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CAFile             string `yaml:"ca_file" env:"CA_FILE"`
	CertFile           string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile            string `yaml:"key_file" env:"KEY_FILE"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// DefaultInventoryConfig returns the default client configuration
func DefaultInventoryConfig() InventoryConfig {
	return InventoryConfig{
		RequestTimeout: 30 * time.Second,
		RateLimit:      20,
		Burst:          10,
		PageSize:       500,
		Retry:          utils.DefaultRetryConfig(),
	}
}

// Validate checks the client configuration
func (c InventoryConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	return c.Retry.Validate()
}

// tlsConfig builds the client TLS configuration, nil when nothing is set
func (c TLSConfig) tlsConfig() (*tls.Config, error) {
	if c == (TLSConfig{}) {
		return nil, nil
	}

	cfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		caCert, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to add CA certificate to pool")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
