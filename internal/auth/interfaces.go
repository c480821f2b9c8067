package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/carpoolhq/backend/pkg/models"
)

// RepositoryInterface defines the persistence operations the auth service
// needs from users and sessions (spec §3 User, Session).
type RepositoryInterface interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmailHash(ctx context.Context, emailLookupHash string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
	SetMFA(ctx context.Context, userID uuid.UUID, enabled bool, secret []byte) error

	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	RotateSession(ctx context.Context, sessionID uuid.UUID, oldTokenHash, newTokenHash string, expiresAt time.Time) (bool, error)
	RevokeSession(ctx context.Context, tokenHash string) error
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) error
}
