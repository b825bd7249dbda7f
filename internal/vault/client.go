package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"market-signal-engine/config"
	"market-signal-engine/internal/logging"

	"github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when no credential is stored under a key
var ErrNotFound = errors.New("credential not found")

// valueField is the KV field holding the credential
const valueField = "value"

// Client wraps the HashiCorp Vault client and serves provider credentials
// from a KV v2 mount. Reads are cached in memory.
type Client struct {
	client *api.Client
	config config.VaultConfig
	logger *logging.Logger
	mu     sync.RWMutex
	cache  map[string]string // credential key -> value
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logging.WithComponent("vault"),
		cache:  make(map[string]string),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// StoreCredential writes a provider credential to Vault
func (c *Client) StoreCredential(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("credential key is required")
	}

	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				valueField: value,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(key), secretData); err != nil {
			return fmt.Errorf("failed to store credential in vault: %w", err)
		}
	}

	// Disabled vault keeps credentials in the local cache only
	c.mu.Lock()
	c.cache[key] = value
	c.mu.Unlock()
	return nil
}

// GetCredential reads a provider credential
func (c *Client) GetCredential(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.config.Enabled {
		return "", ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to read credential from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format")
	}
	value := getString(data, valueField)
	if value == "" {
		return "", ErrNotFound
	}

	c.mu.Lock()
	c.cache[key] = value
	c.mu.Unlock()
	return value, nil
}

// Credential resolves key for the provider selector. Lookup failures are
// logged and reported as missing.
func (c *Client) Credential(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	value, err := c.GetCredential(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("Vault credential lookup failed", "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

// DeleteCredential removes a credential and all its versions
func (c *Client) DeleteCredential(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(key)); err != nil {
		return fmt.Errorf("failed to delete credential from vault: %w", err)
	}
	return nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
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

func (c *Client) secretPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, key)
}

func (c *Client) metadataPath(key string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, key)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a cache-only client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{Enabled: false},
		logger: logging.Nop(),
		cache:  make(map[string]string),
	}
}
