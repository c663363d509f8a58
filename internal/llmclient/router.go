// internal/llmclient/router.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// Router implements schemas.LLMClient and dispatches each request to the
// underlying client for the requested tier.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

var _ schemas.LLMClient = (*Router)(nil)

// NewRouter creates a router with the specified clients for each tier.
func NewRouter(logger *zap.Logger, fastClient, heavyClient schemas.LLMClient) (*Router, error) {
	if fastClient == nil {
		return nil, fmt.Errorf("fast tier client cannot be nil")
	}
	if heavyClient == nil {
		return nil, fmt.Errorf("heavy tier client cannot be nil")
	}

	return &Router{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:  fastClient,
			schemas.TierHeavy: heavyClient,
		},
	}, nil
}

// Generate selects the client for the request's tier and forwards the
// request. An unset tier defaults to the fast client.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierFast
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Close closes every underlying client, returning the first error seen.
func (r *Router) Close() error {
	var firstErr error
	for tier, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s tier client: %w", tier, err)
		}
	}
	return firstErr
}
