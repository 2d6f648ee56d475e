package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signal-pipeline/config"
	"signal-pipeline/internal/vault"
)

// ClientFactory builds per-user exchange clients from Vault-held
// credentials. Clients are cached per user/environment; a credential
// update invalidates through InvalidateUser.
type ClientFactory struct {
	cfg   config.ExchangeConfig
	vault *vault.Client
	mock  *MockClient
	mu    sync.Mutex
	cache map[string]Client
}

// NewClientFactory creates a client factory
func NewClientFactory(cfg config.ExchangeConfig, vaultClient *vault.Client) *ClientFactory {
	return &ClientFactory{
		cfg:   cfg,
		vault: vaultClient,
		mock:  NewMockClient(10000),
		cache: make(map[string]Client),
	}
}

// MockExchange returns the shared simulated exchange used in mock mode
func (f *ClientFactory) MockExchange() *MockClient {
	return f.mock
}

// ClientFor returns an exchange client for a user and environment.
// In mock mode every user shares the simulated exchange. Otherwise the
// user's credentials are loaded from Vault; vault.ErrNotFound propagates
// so callers can skip users without keys.
func (f *ClientFactory) ClientFor(ctx context.Context, userID int64, exchangeName, environment string) (Client, error) {
	if f.cfg.MockMode {
		return f.mock, nil
	}

	isTestnet := environment == "TESTNET"
	key := fmt.Sprintf("%d/%s/%v", userID, exchangeName, isTestnet)

	f.mu.Lock()
	if client, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return client, nil
	}
	f.mu.Unlock()

	creds, err := f.vault.GetCredentials(ctx, userID, exchangeName, isTestnet)
	if err != nil {
		return nil, err
	}

	baseURL := f.cfg.BaseURL
	if isTestnet {
		baseURL = f.cfg.TestnetURL
	}

	client := NewHTTPClient(
		creds.APIKey, creds.SecretKey, baseURL,
		time.Duration(f.cfg.RequestTimeout)*time.Second,
		f.cfg.RecvWindowMs,
	)

	f.mu.Lock()
	f.cache[key] = client
	f.mu.Unlock()
	return client, nil
}

// InvalidateUser drops a user's cached clients after a credential change
func (f *ClientFactory) InvalidateUser(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		var id int64
		if _, err := fmt.Sscanf(key, "%d/", &id); err == nil && id == userID {
			delete(f.cache, key)
		}
	}
}
