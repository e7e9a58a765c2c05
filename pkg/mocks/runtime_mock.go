// Package mocks provides testify mock implementations of the engine's
// collaborator interfaces.
package mocks

import (
	"context"

	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/runtime"
	"github.com/stretchr/testify/mock"
)

// MockInvoker is a mock implementation of runtime.Invoker interface.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, deployment *models.Deployment, rt *models.Runtime, payload *runtime.Payload) (*runtime.Result, error) {
	args := m.Called(ctx, deployment, rt, payload)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	result, _ := args.Get(0).(*runtime.Result)

	return result, args.Error(1)
}

// MockQuotaGate is a mock implementation of dispatcher.QuotaGate interface.
type MockQuotaGate struct {
	mock.Mock
}

func (m *MockQuotaGate) WithinQuota(ctx context.Context, organizationID string) (bool, error) {
	args := m.Called(ctx, organizationID)

	return args.Bool(0), args.Error(1)
}
