// internal/llmclient/router_test.go
package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

type mockTierClient struct {
	mock.Mock
}

func (m *mockTierClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockTierClient) Close() error {
	return m.Called().Error(0)
}

func TestRouter_RoutesByTier(t *testing.T) {
	fast := new(mockTierClient)
	heavy := new(mockTierClient)
	router, err := NewRouter(zaptest.NewLogger(t), fast, heavy)
	require.NoError(t, err)

	fast.On("Generate", mock.Anything, mock.Anything).Return("fast answer", nil).Twice()
	heavy.On("Generate", mock.Anything, mock.Anything).Return("heavy answer", nil).Once()

	text, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast answer", text)

	text, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierHeavy})
	require.NoError(t, err)
	assert.Equal(t, "heavy answer", text)

	// Unset tier defaults to fast.
	text, err = router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fast answer", text)

	fast.AssertExpectations(t)
	heavy.AssertExpectations(t)
}

func TestRouter_RejectsUnknownTier(t *testing.T) {
	fast := new(mockTierClient)
	heavy := new(mockTierClient)
	router, err := NewRouter(zaptest.NewLogger(t), fast, heavy)
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: "warp"})
	assert.Error(t, err)
}

func TestRouter_CloseClosesAllClients(t *testing.T) {
	fast := new(mockTierClient)
	heavy := new(mockTierClient)
	router, err := NewRouter(zaptest.NewLogger(t), fast, heavy)
	require.NoError(t, err)

	fast.On("Close").Return(nil).Once()
	heavy.On("Close").Return(errors.New("already closed")).Once()

	assert.Error(t, router.Close())
	fast.AssertExpectations(t)
	heavy.AssertExpectations(t)
}

func TestNewRouter_RequiresBothTiers(t *testing.T) {
	_, err := NewRouter(zaptest.NewLogger(t), nil, new(mockTierClient))
	assert.Error(t, err)
	_, err = NewRouter(zaptest.NewLogger(t), new(mockTierClient), nil)
	assert.Error(t, err)
}

func TestNewClient_WiresConfiguredTiers(t *testing.T) {
	cfg := config.NewDefaultConfig().LLM

	client, err := NewClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NoError(t, client.Close())
}

func TestNewClient_UnknownProvider(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultFastModel:  "m",
		DefaultHeavyModel: "m",
		Models: map[string]config.LLMModelConfig{
			"m": {Provider: "carrier-pigeon", Endpoint: "http://localhost:1"},
		},
	}
	_, err := NewClient(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
