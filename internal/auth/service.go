package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/crypto"
	"github.com/carpoolhq/backend/pkg/jwtkeys"
	"github.com/carpoolhq/backend/pkg/middleware"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/carpoolhq/backend/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const refreshTokenTTL = 30 * 24 * time.Hour

// Service handles authentication business logic: registration, credential
// verification, and refresh-token rotation (spec §3, §4).
type Service struct {
	repo       RepositoryInterface
	keyManager *jwtkeys.Manager
	crypto     *crypto.Service
	jwtExpiry  int
}

// NewService creates a new auth service.
func NewService(repo RepositoryInterface, keyManager *jwtkeys.Manager, cryptoSvc *crypto.Service, jwtExpiry int) *Service {
	return &Service{
		repo:       repo,
		keyManager: keyManager,
		crypto:     cryptoSvc,
		jwtExpiry:  jwtExpiry,
	}
}

// Register creates a new user. The email is stored only as a lookup hash and
// an encrypted profile blob — never as plaintext (spec §6).
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "auth-service", "Register")
	defer span.End()

	tracing.AddSpanAttributes(ctx, attribute.String("user.role", string(models.RoleUser)))

	emailHash := s.crypto.HashForLookup(req.Email)

	existing, err := s.repo.GetUserByEmailHash(ctx, emailHash)
	if err != nil && err != pgx.ErrNoRows {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to check existing user")
	}
	if existing != nil {
		return nil, common.NewConflictError("user with this email already exists")
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to hash password")
	}

	user := &models.User{
		ID:              uuid.New(),
		EmailLookupHash: emailHash,
		PasswordHash:    passwordHash,
		Role:            models.RoleUser,
		Active:          true,
		EmailVerified:   false,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	profile := models.Profile{Name: req.Name, Email: req.Email, Phone: req.Phone}
	plaintext, err := json.Marshal(profile)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to encode profile")
	}

	user.EncryptedProfile, err = s.crypto.EncryptPII(user.ID.String(), plaintext)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to encrypt profile")
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to create user")
	}

	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(user.ID.String()))
	tracing.AddSpanEvent(ctx, "user_registered", attribute.String("user_id", user.ID.String()))

	return user, nil
}

// Login verifies credentials and issues a fresh access/refresh token pair.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "auth-service", "Login")
	defer span.End()

	emailHash := s.crypto.HashForLookup(req.Email)
	user, err := s.repo.GetUserByEmailHash(ctx, emailHash)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewUnauthorizedError("invalid credentials")
	}

	if !user.Active {
		return nil, common.NewUnauthorizedError("account is inactive")
	}

	if !crypto.VerifyPassword(user.PasswordHash, req.Password) {
		return nil, common.NewUnauthorizedError("invalid credentials")
	}

	accessToken, err := s.generateToken(ctx, user)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to generate token")
	}

	refreshToken, err := s.issueSession(ctx, user.ID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to start session")
	}

	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(user.ID.String()))

	return &models.LoginResponse{AccessToken: accessToken, RefreshToken: refreshToken, User: user}, nil
}

// RefreshToken rotates a session's refresh token and issues a new access
// token. A missing or already-rotated session is a replay signal and is
// rejected with the same generic 401 as an expired one — the two are never
// distinguished on the wire (spec §3).
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*models.LoginResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "auth-service", "RefreshToken")
	defer span.End()

	tokenHash := s.crypto.HashForLookup(refreshToken)

	session, err := s.repo.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	newRefreshToken := uuid.New().String()
	newHash := s.crypto.HashForLookup(newRefreshToken)
	newExpiry := time.Now().Add(refreshTokenTTL)

	rotated, err := s.repo.RotateSession(ctx, session.ID, tokenHash, newHash, newExpiry)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to rotate session")
	}
	if !rotated {
		// Another refresh won the race on this same token: treat as replay.
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	user, err := s.repo.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	accessToken, err := s.generateToken(ctx, user)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalServerError("failed to generate token")
	}

	return &models.LoginResponse{AccessToken: accessToken, RefreshToken: newRefreshToken, User: user}, nil
}

// Logout revokes a single session by its refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	tokenHash := s.crypto.HashForLookup(refreshToken)
	return s.repo.RevokeSession(ctx, tokenHash)
}

// GetProfile retrieves and decrypts a user's profile.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, *models.Profile, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, common.NewNotFoundError("user not found", nil)
	}

	profile, err := s.decryptProfile(user)
	if err != nil {
		return nil, nil, common.NewInternalServerError("failed to decrypt profile")
	}

	return user, profile, nil
}

// UpdateProfile re-encrypts and persists a changed profile.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, updates *models.Profile) (*models.User, *models.Profile, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, common.NewNotFoundError("user not found", nil)
	}

	current, err := s.decryptProfile(user)
	if err != nil {
		return nil, nil, common.NewInternalServerError("failed to decrypt profile")
	}

	if updates.Name != "" {
		current.Name = updates.Name
	}
	if updates.Phone != "" {
		current.Phone = updates.Phone
	}

	plaintext, err := json.Marshal(current)
	if err != nil {
		return nil, nil, common.NewInternalServerError("failed to encode profile")
	}

	user.EncryptedProfile, err = s.crypto.EncryptPII(user.ID.String(), plaintext)
	if err != nil {
		return nil, nil, common.NewInternalServerError("failed to encrypt profile")
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, nil, common.NewInternalServerError("failed to update profile")
	}

	return user, current, nil
}

// EnrollMFA encrypts the caller-supplied TOTP secret at rest and stores it
// with MFA still disabled; it returns only an error. MFA is switched on by
// ConfirmMFA once the first code has been verified (SPEC_FULL §14.2).
func (s *Service) EnrollMFA(ctx context.Context, userID uuid.UUID, rawSecret []byte) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return common.NewNotFoundError("user not found", nil)
	}

	encrypted, err := s.crypto.EncryptPII(user.ID.String(), rawSecret)
	if err != nil {
		return common.NewInternalServerError("failed to encrypt MFA secret")
	}

	return s.repo.SetMFA(ctx, userID, false, encrypted)
}

// ConfirmMFA turns on MFA enforcement after the caller has already validated
// the first TOTP code against the decrypted secret.
func (s *Service) ConfirmMFA(ctx context.Context, userID uuid.UUID, encryptedSecret []byte) error {
	return s.repo.SetMFA(ctx, userID, true, encryptedSecret)
}

// VerifyEmail marks a user's email address as confirmed.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	return s.repo.SetEmailVerified(ctx, userID)
}

func (s *Service) decryptProfile(user *models.User) (*models.Profile, error) {
	plaintext, err := s.crypto.DecryptPII(user.ID.String(), user.EncryptedProfile)
	if err != nil {
		return nil, err
	}
	var profile models.Profile
	if err := json.Unmarshal(plaintext, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// issueSession creates a new session row and returns the plaintext refresh
// token (only the lookup hash is ever persisted).
func (s *Service) issueSession(ctx context.Context, userID uuid.UUID) (string, error) {
	refreshToken := uuid.New().String()
	session := &models.Session{
		ID:               uuid.New(),
		UserID:           userID,
		RefreshTokenHash: s.crypto.HashForLookup(refreshToken),
		ExpiresAt:        time.Now().Add(refreshTokenTTL),
		LastAccessed:     time.Now(),
		Active:           true,
		CreatedAt:        time.Now(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return "", err
	}
	return refreshToken, nil
}

// generateToken signs a short-lived access token carrying only the claims
// needed for authorization decisions (spec §6).
func (s *Service) generateToken(ctx context.Context, user *models.User) (string, error) {
	if s.keyManager == nil {
		return "", fmt.Errorf("jwt key manager is not configured")
	}

	if err := s.keyManager.EnsureRotation(ctx); err != nil {
		return "", fmt.Errorf("failed to rotate signing key: %w", err)
	}

	key, err := s.keyManager.CurrentSigningKey()
	if err != nil {
		return "", fmt.Errorf("failed to retrieve signing key: %w", err)
	}

	secretBytes, err := key.SecretBytes()
	if err != nil {
		return "", fmt.Errorf("invalid signing key: %w", err)
	}

	claims := &middleware.Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * time.Duration(s.jwtExpiry))),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.ID
	tokenString, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
