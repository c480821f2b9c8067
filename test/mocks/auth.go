package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAuthRepository is a mock implementation of the auth repository.
type MockAuthRepository struct {
	mock.Mock
}

func (m *MockAuthRepository) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockAuthRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAuthRepository) GetUserByEmailHash(ctx context.Context, emailLookupHash string) (*models.User, error) {
	args := m.Called(ctx, emailLookupHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAuthRepository) UpdateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockAuthRepository) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockAuthRepository) SetMFA(ctx context.Context, userID uuid.UUID, enabled bool, secret []byte) error {
	args := m.Called(ctx, userID, enabled, secret)
	return args.Error(0)
}

func (m *MockAuthRepository) CreateSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockAuthRepository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockAuthRepository) RotateSession(ctx context.Context, sessionID uuid.UUID, oldTokenHash, newTokenHash string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, sessionID, oldTokenHash, newTokenHash, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockAuthRepository) RevokeSession(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *MockAuthRepository) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
