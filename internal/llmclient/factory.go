// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

// NewClient instantiates every configured model and wires the fast and heavy
// tiers into a Router. The rest of the application sees a single tiered
// schemas.LLMClient.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no LLM models configured under llm.models")
	}

	instantiated := make(map[string]schemas.LLMClient, len(cfg.Models))
	for name, modelCfg := range cfg.Models {
		var client schemas.LLMClient
		var err error
		switch modelCfg.Provider {
		case config.ProviderCompletion, "":
			client, err = NewCompletionClient(modelCfg, logger)
		default:
			return nil, fmt.Errorf("unknown LLM provider '%s' for model '%s'", modelCfg.Provider, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client for model '%s': %w", name, err)
		}
		instantiated[name] = client
		logger.Info("Instantiated LLM client",
			zap.String("name", name),
			zap.String("provider", string(modelCfg.Provider)),
			zap.String("model", modelCfg.Model))
	}

	fastClient, ok := instantiated[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("default fast model '%s' not found in defined models", cfg.DefaultFastModel)
	}
	heavyClient, ok := instantiated[cfg.DefaultHeavyModel]
	if !ok {
		return nil, fmt.Errorf("default heavy model '%s' not found in defined models", cfg.DefaultHeavyModel)
	}

	return NewRouter(logger, fastClient, heavyClient)
}
