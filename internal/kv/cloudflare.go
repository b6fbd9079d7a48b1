package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
)

const cloudflareAPI = "https://api.cloudflare.com/client/v4"

// CloudflareConfig holds Workers KV credentials.
type CloudflareConfig struct {
	AccountID   string `validate:"required"`
	NamespaceID string `validate:"required"`
	APIToken    string `validate:"required"`
}

var validate = validator.New()

// Validate reports missing credentials.
func (c CloudflareConfig) Validate() error {
	return validate.Struct(c)
}

// Configured is true when every credential is present.
func (c CloudflareConfig) Configured() bool {
	return c.Validate() == nil
}

// Cloudflare reads and writes Workers KV values over the REST API.
type Cloudflare struct {
	cfg     CloudflareConfig
	client  *fetch.Client
	baseURL string
}

func NewCloudflare(cfg CloudflareConfig, client *fetch.Client) (*Cloudflare, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cloudflare kv config: %w", err)
	}
	return &Cloudflare{cfg: cfg, client: client, baseURL: cloudflareAPI}, nil
}

func (c *Cloudflare) valueURL(key string) string {
	return fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/values/%s",
		c.baseURL, c.cfg.AccountID, c.cfg.NamespaceID, url.PathEscape(key))
}

func (c *Cloudflare) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.valueURL(key), bytes.NewReader(value))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("cloudflare kv put %s: %w", key, err)
	}
	return nil
}

func (c *Cloudflare) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.valueURL(key), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
		return req, nil
	})
	var se *fetch.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cloudflare kv get %s: %w", key, err)
	}
	return body, nil
}
