package mocks

import (
	"context"

	"docingest/internal/auth"

	"github.com/stretchr/testify/mock"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	args := m.Called(ctx, credential)
	return args.Get(0).(auth.Identity), args.Error(1)
}
