// Package vault reads broker credentials from HashiCorp Vault so the API
// key never has to live in the config file. With Vault disabled the
// caller falls back to environment variables.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds the Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

func (c *Config) normalize() {
	if c.MountPath == "" {
		c.MountPath = "secret"
	}
	if c.SecretPath == "" {
		c.SecretPath = "trading-bot/broker"
	}
}

// BrokerCredentials is the secret stored at the broker path.
type BrokerCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Paper     bool   `json:"paper"`
}

// Client wraps the HashiCorp Vault client with a read-once cache.
type Client struct {
	client *api.Client
	cfg    Config

	mu     sync.RWMutex
	cached *BrokerCredentials
}

// NewClient creates a Vault client. A disabled config yields a client
// whose reads fail, signalling the env-var fallback.
func NewClient(cfg Config) (*Client, error) {
	cfg.normalize()
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// IsEnabled reports whether Vault is configured.
func (c *Client) IsEnabled() bool {
	return c.cfg.Enabled
}

// BrokerCredentials reads the broker secret, serving repeat calls from
// cache. The secret is written once at provisioning time; rotation goes
// through ClearCache.
func (c *Client) BrokerCredentials(ctx context.Context) (*BrokerCredentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("broker credentials not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := &BrokerCredentials{
		APIKey:    getString(data, "api_key"),
		APISecret: getString(data, "api_secret"),
		Paper:     getBool(data, "paper"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("broker credentials at %s are incomplete", path)
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()
	return creds, nil
}

// StoreBrokerCredentials writes the broker secret, for provisioning.
func (c *Client) StoreBrokerCredentials(ctx context.Context, creds BrokerCredentials) error {
	if !c.cfg.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"api_secret": creds.APISecret,
			"paper":      creds.Paper,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		return fmt.Errorf("failed to store broker credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}

// ClearCache drops the cached secret so the next read hits Vault again.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
