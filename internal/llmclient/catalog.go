package llmclient

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"repoquery/internal/types"
)

// Catalog builds and caches one client per registry model.
type Catalog struct {
	mu          sync.Mutex
	clients     map[string]Client
	callTimeout time.Duration
	attempts    int
}

func NewCatalog(callTimeout time.Duration, retryAttempts int) *Catalog {
	return &Catalog{
		clients:     map[string]Client{},
		callTimeout: callTimeout,
		attempts:    retryAttempts,
	}
}

// For returns the client for a descriptor, constructing it on first use.
// Returned clients already carry the timeout and retry middleware.
func (c *Catalog) For(ctx context.Context, desc types.ModelDescriptor) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cli, ok := c.clients[desc.Name]; ok {
		return cli, nil
	}

	var base Client
	var err error
	switch desc.Provider {
	case "gemini":
		base, err = NewGeminiClient(ctx, desc.Name)
	case "openai":
		base = NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), desc.Name)
	default:
		err = fmt.Errorf("llmclient: unknown provider %q for model %q", desc.Provider, desc.Name)
	}
	if err != nil {
		return nil, err
	}

	cli := WithRetry(WithTimeout(base, c.callTimeout), c.attempts, 2*time.Second)
	c.clients[desc.Name] = cli
	return cli, nil
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, cli := range c.clients {
		_ = cli.Close()
		delete(c.clients, name)
	}
	return nil
}
