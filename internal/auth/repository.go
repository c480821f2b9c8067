package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carpoolhq/backend/pkg/models"
)

// Repository persists User and Session rows against Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email_lookup_hash, password_hash, oauth_provider, oauth_subject,
	encrypted_profile, role, active, email_verified, mfa_enabled, mfa_secret_encrypted,
	docs_verified, organization_id, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.EmailLookupHash, &u.PasswordHash, &u.OAuthProvider, &u.OAuthSubject,
		&u.EncryptedProfile, &u.Role, &u.Active, &u.EmailVerified, &u.MFAEnabled, &u.MFASecret,
		&u.DocsVerified, &u.OrganizationID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		user.ID, user.EmailLookupHash, user.PasswordHash, user.OAuthProvider, user.OAuthSubject,
		user.EncryptedProfile, user.Role, user.Active, user.EmailVerified, user.MFAEnabled, user.MFASecret,
		user.DocsVerified, user.OrganizationID, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// GetUserByID fetches a user by primary key.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmailHash looks a user up by their deterministic email lookup
// hash — the only way to find a user by email without storing plaintext
// (spec §6).
func (r *Repository) GetUserByEmailHash(ctx context.Context, emailLookupHash string) (*models.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email_lookup_hash = $1`, emailLookupHash)
	return scanUser(row)
}

// UpdateUser persists mutable profile/auth fields.
func (r *Repository) UpdateUser(ctx context.Context, user *models.User) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, encrypted_profile = $3, active = $4,
			mfa_enabled = $5, mfa_secret_encrypted = $6, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.PasswordHash, user.EncryptedProfile, user.Active, user.MFAEnabled, user.MFASecret)
	return err
}

// SetEmailVerified flips the email_verified flag, idempotently.
func (r *Repository) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET email_verified = true, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

// SetMFA enables or disables MFA and stores the encrypted TOTP secret.
func (r *Repository) SetMFA(ctx context.Context, userID uuid.UUID, enabled bool, secret []byte) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET mfa_enabled = $2, mfa_secret_encrypted = $3, updated_at = NOW() WHERE id = $1
	`, userID, enabled, secret)
	return err
}

// CreateSession inserts a new refresh-token session row.
func (r *Repository) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at, last_accessed, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, session.ID, session.UserID, session.RefreshTokenHash, session.ExpiresAt, session.LastAccessed, session.Active, session.CreatedAt)
	return err
}

// GetSessionByTokenHash looks up an active session by its refresh token
// hash. A miss is treated by the caller as a possible replay (spec §3).
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var s models.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, refresh_token_hash, expires_at, last_accessed, active, created_at
		FROM sessions
		WHERE refresh_token_hash = $1 AND active = true
	`, tokenHash).Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt, &s.LastAccessed, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RotateSession atomically swaps a session's refresh token hash, guarded by
// the old hash still being current — this is the conditional UPDATE
// primitive (spec §5) that makes concurrent refresh attempts on the same
// stolen/replayed token mutually exclusive: only the first writer wins.
func (r *Repository) RotateSession(ctx context.Context, sessionID uuid.UUID, oldTokenHash, newTokenHash string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, expires_at = $4, last_accessed = NOW()
		WHERE id = $1 AND refresh_token_hash = $2 AND active = true
	`, sessionID, oldTokenHash, newTokenHash, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeSession deactivates a single session by its current token hash.
func (r *Repository) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET active = false WHERE refresh_token_hash = $1`, tokenHash)
	return err
}

// RevokeAllSessions deactivates every session belonging to a user.
func (r *Repository) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET active = false WHERE user_id = $1`, userID)
	return err
}
