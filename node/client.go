package node

import (
	"context"
	"fmt"
)

// IntegrationClient is the narrow per-integration surface an action node
// calls: success with an output map, or a typed failure. Mark permanent
// failures with Permanent so the saga skips the retry budget.
type IntegrationClient interface {
	Call(ctx context.Context, operation string, params map[string]any) (map[string]any, error)
}

// ClientRegistry maps external-service identifiers to injected clients.
// Action executors dispatch forward calls through it and the saga replays
// compensations through it.
type ClientRegistry struct {
	clients map[string]IntegrationClient
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]IntegrationClient)}
}

func (r *ClientRegistry) Register(service string, client IntegrationClient) {
	r.clients[service] = client
}

func (r *ClientRegistry) Call(ctx context.Context, service string, operation string, params map[string]any) (map[string]any, error) {
	client, ok := r.clients[service]
	if !ok {
		return nil, Permanent(fmt.Errorf("no client registered for service %s", service))
	}
	return client.Call(ctx, operation, params)
}
