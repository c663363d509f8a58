// File: internal/agent/mocks_test.go
package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// MockPage mocks the browser page handle.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) IsOpen() bool {
	return m.Called().Bool(0)
}

// MockScanner mocks the page scanner.
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Scan(ctx context.Context, page Page) (*schemas.ContentSnapshot, error) {
	args := m.Called(ctx, page)
	if snap := args.Get(0); snap != nil {
		return snap.(*schemas.ContentSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockExecutor mocks the concrete action executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, page Page, action ConcreteAction) error {
	return m.Called(ctx, page, action).Error(0)
}

// MockPlanRequester mocks the backend plan requester.
type MockPlanRequester struct {
	mock.Mock
}

func (m *MockPlanRequester) RequestPlan(ctx context.Context, req PlanRequest) ([]AbstractAction, error) {
	args := m.Called(ctx, req)
	if plan := args.Get(0); plan != nil {
		return plan.([]AbstractAction), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLLMClient mocks the generative backend used by the planner.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}
