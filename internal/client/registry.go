package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/workshop/quorumkv/internal/wire"
)

// RegistryClient talks to the Registry's query endpoints. The Coordinator
// is its only consumer: quorum gating needs Alive, /status needs Nodes.
type RegistryClient struct {
	baseURL string
	http    *http.Client
}

// NewRegistryClient creates a RegistryClient.
func NewRegistryClient(baseURL string) *RegistryClient {
	return &RegistryClient{baseURL: baseURL, http: &http.Client{Timeout: 2 * time.Second}}
}

// Alive returns the registry's current alive-node descriptors.
func (c *RegistryClient) Alive(ctx context.Context) ([]wire.NodeDescriptor, error) {
	var out []wire.NodeDescriptor
	err := c.get(ctx, "/alive", &out)
	return out, err
}

// Nodes returns every membership entry regardless of state.
func (c *RegistryClient) Nodes(ctx context.Context) ([]wire.MembershipEntry, error) {
	var out []wire.MembershipEntry
	err := c.get(ctx, "/nodes", &out)
	return out, err
}

func (c *RegistryClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
