package source

import (
	"context"
	"fmt"
	"strings"

	consulapi "github.com/hashicorp/consul/api"
)

// Consul reads dynamic service configuration from Consul's KV store.
type Consul struct {
	api *consulapi.Client
}

// NewConsul creates a Consul source for the agent at addr. An empty token uses the agent's
// default ACL token.
func NewConsul(addr, token string) (*Consul, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	if token != "" {
		cfg.Token = token
	}

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Consul{api: client}, nil
}

// List implements healthgate.KVSource with a recursive KV read below prefix.
func (c *Consul) List(ctx context.Context, prefix string) (map[string]string, error) {
	opts := (&consulapi.QueryOptions{}).WithContext(ctx)

	pairs, _, err := c.api.KV().List(strings.TrimPrefix(prefix, "/"), opts)
	if err != nil {
		return nil, fmt.Errorf("consul kv list %q: %w", prefix, err)
	}

	entries := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if pair == nil {
			continue
		}
		entries[pair.Key] = string(pair.Value)
	}
	return entries, nil
}

// Healthy checks connectivity to Consul.
func (c *Consul) Healthy() error {
	_, err := c.api.Status().Leader()
	return err
}
