package vault

import (
	"context"
	"fmt"
	"sync"

	"signal-pipeline/config"

	"github.com/hashicorp/vault/api"
)

// Credentials represents one user's exchange API credentials stored in Vault
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the
// client stores credentials in its local cache only, which keeps
// development and test environments working without a Vault server.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*Credentials // userID/exchange/env -> credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*Credentials),
			cacheEnabled: true,
		}, nil
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

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*Credentials),
		cacheEnabled: true,
	}, nil
}

// StoreCredentials stores a user's exchange credentials
func (c *Client) StoreCredentials(ctx context.Context, userID int64, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(userID, creds.Exchange, creds.IsTestnet)] = &creds
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(userID, creds.Exchange, creds.IsTestnet)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"exchange":   creds.Exchange,
			"is_testnet": creds.IsTestnet,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(userID, creds.Exchange, creds.IsTestnet)] = &creds
		c.mu.Unlock()
	}

	return nil
}

// GetCredentials retrieves a user's exchange credentials.
// Returns ErrNotFound when the user has no stored key for that
// exchange/environment.
func (c *Client) GetCredentials(ctx context.Context, userID int64, exchange string, isTestnet bool) (*Credentials, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[c.cacheKey(userID, exchange, isTestnet)]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, ErrNotFound
	}

	path := c.secretPath(userID, exchange, isTestnet)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected vault secret format at %s", path)
	}

	creds := &Credentials{
		Exchange:  exchange,
		IsTestnet: isTestnet,
	}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, ErrNotFound
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(userID, exchange, isTestnet)] = creds
		c.mu.Unlock()
	}

	return creds, nil
}

// DeleteCredentials removes a user's credentials from Vault and the cache
func (c *Client) DeleteCredentials(ctx context.Context, userID int64, exchange string, isTestnet bool) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, exchange, isTestnet))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.secretPath(userID, exchange, isTestnet)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

func (c *Client) cacheKey(userID int64, exchange string, isTestnet bool) string {
	env := "mainnet"
	if isTestnet {
		env = "testnet"
	}
	return fmt.Sprintf("%d/%s/%s", userID, exchange, env)
}

func (c *Client) secretPath(userID int64, exchange string, isTestnet bool) string {
	// KV v2 data path: {mount}/data/{prefix}/{userID}/{exchange}/{env}
	env := "mainnet"
	if isTestnet {
		env = "testnet"
	}
	return fmt.Sprintf("%s/data/%s/%d/%s/%s",
		c.config.MountPath, c.config.SecretPath, userID, exchange, env)
}
