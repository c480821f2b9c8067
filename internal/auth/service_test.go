package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/carpoolhq/backend/pkg/crypto"
	"github.com/carpoolhq/backend/pkg/jwtkeys"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/carpoolhq/backend/test/mocks"
)

const testMasterKey = "test-master-key-at-least-32-bytes-long!!"

func newTestService(t *testing.T, repo RepositoryInterface) *Service {
	t.Helper()
	manager, err := jwtkeys.NewManager(context.Background(), jwtkeys.Config{
		RotationInterval: 365 * 24 * time.Hour,
		GracePeriod:      365 * 24 * time.Hour,
		LegacySecret:     "test-secret",
	})
	if err != nil {
		t.Fatalf("failed to create jwt manager: %v", err)
	}
	cryptoSvc, err := crypto.NewService(testMasterKey)
	if err != nil {
		t.Fatalf("failed to create crypto service: %v", err)
	}
	return NewService(repo, manager, cryptoSvc, 24)
}

func testRegisterRequest() *models.RegisterRequest {
	return &models.RegisterRequest{
		Email:    "rider@example.com",
		Password: "correct-horse-battery-staple",
		Name:     "Riley Rider",
		Phone:    "+15551234567",
	}
}

func TestService_Register_Success(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()
	req := testRegisterRequest()

	mockRepo.On("GetUserByEmailHash", ctx, mock.AnythingOfType("string")).Return(nil, pgx.ErrNoRows)
	mockRepo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).Return(nil)

	user, err := service.Register(ctx, req)

	assert.NoError(t, err)
	assert.NotNil(t, user)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.Active)
	assert.False(t, user.EmailVerified)
	assert.NotEmpty(t, user.EmailLookupHash)
	assert.NotEmpty(t, user.EncryptedProfile)
	mockRepo.AssertExpectations(t)
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()
	req := testRegisterRequest()

	existing := &models.User{EmailLookupHash: "already-taken"}
	mockRepo.On("GetUserByEmailHash", ctx, mock.AnythingOfType("string")).Return(existing, nil)

	user, err := service.Register(ctx, req)

	assert.Error(t, err)
	assert.Nil(t, user)
	mockRepo.AssertExpectations(t)
}

func TestService_Login_Success(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	passwordHash, err := crypto.HashPassword("correct-horse-battery-staple")
	assert.NoError(t, err)

	user := &models.User{
		ID:           uuid.New(),
		PasswordHash: passwordHash,
		Active:       true,
		Role:         models.RoleUser,
	}

	mockRepo.On("GetUserByEmailHash", ctx, mock.AnythingOfType("string")).Return(user, nil)
	mockRepo.On("CreateSession", ctx, mock.AnythingOfType("*models.Session")).Return(nil)

	resp, err := service.Login(ctx, &models.LoginRequest{Email: "rider@example.com", Password: "correct-horse-battery-staple"})

	assert.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	mockRepo.AssertExpectations(t)
}

func TestService_Login_WrongPassword(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	passwordHash, err := crypto.HashPassword("correct-horse-battery-staple")
	assert.NoError(t, err)

	user := &models.User{ID: uuid.New(), PasswordHash: passwordHash, Active: true}
	mockRepo.On("GetUserByEmailHash", ctx, mock.AnythingOfType("string")).Return(user, nil)

	resp, err := service.Login(ctx, &models.LoginRequest{Email: "rider@example.com", Password: "wrong-password"})

	assert.Error(t, err)
	assert.Nil(t, resp)
	mockRepo.AssertExpectations(t)
}

func TestService_Login_InactiveAccount(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	passwordHash, _ := crypto.HashPassword("correct-horse-battery-staple")
	user := &models.User{ID: uuid.New(), PasswordHash: passwordHash, Active: false}
	mockRepo.On("GetUserByEmailHash", ctx, mock.AnythingOfType("string")).Return(user, nil)

	resp, err := service.Login(ctx, &models.LoginRequest{Email: "rider@example.com", Password: "correct-horse-battery-staple"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestService_RefreshToken_RotatesSession(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	userID := uuid.New()
	session := &models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	user := &models.User{ID: userID, Role: models.RoleUser}

	mockRepo.On("GetSessionByTokenHash", ctx, mock.AnythingOfType("string")).Return(session, nil)
	mockRepo.On("RotateSession", ctx, session.ID, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(true, nil)
	mockRepo.On("GetUserByID", ctx, userID).Return(user, nil)

	resp, err := service.RefreshToken(ctx, "some-refresh-token")

	assert.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	mockRepo.AssertExpectations(t)
}

func TestService_RefreshToken_ReplayRejected(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	session := &models.Session{ID: uuid.New(), UserID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}
	mockRepo.On("GetSessionByTokenHash", ctx, mock.AnythingOfType("string")).Return(session, nil)
	mockRepo.On("RotateSession", ctx, session.ID, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(false, nil)

	resp, err := service.RefreshToken(ctx, "already-used-token")

	assert.Error(t, err)
	assert.Nil(t, resp)
	mockRepo.AssertExpectations(t)
}

func TestService_RefreshToken_ExpiredSession(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	session := &models.Session{ID: uuid.New(), UserID: uuid.New(), ExpiresAt: time.Now().Add(-time.Hour)}
	mockRepo.On("GetSessionByTokenHash", ctx, mock.AnythingOfType("string")).Return(session, nil)

	resp, err := service.RefreshToken(ctx, "expired-token")

	assert.Error(t, err)
	assert.Nil(t, resp)
	mockRepo.AssertExpectations(t)
}

func TestService_GetProfile_Success(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()

	user := &models.User{ID: uuid.New()}
	plaintext, err := crypto.NewService(testMasterKey)
	assert.NoError(t, err)
	encoded, err := plaintext.EncryptPII(user.ID.String(), []byte(`{"name":"Riley Rider","email":"rider@example.com"}`))
	assert.NoError(t, err)
	user.EncryptedProfile = encoded

	mockRepo.On("GetUserByID", ctx, user.ID).Return(user, nil)

	gotUser, profile, err := service.GetProfile(ctx, user.ID)

	assert.NoError(t, err)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.Equal(t, "Riley Rider", profile.Name)
	mockRepo.AssertExpectations(t)
}

func TestService_GetProfile_UserNotFound(t *testing.T) {
	mockRepo := new(mocks.MockAuthRepository)
	service := newTestService(t, mockRepo)
	ctx := context.Background()
	userID := uuid.New()

	mockRepo.On("GetUserByID", ctx, userID).Return(nil, pgx.ErrNoRows)

	user, profile, err := service.GetProfile(ctx, userID)

	assert.Error(t, err)
	assert.Nil(t, user)
	assert.Nil(t, profile)
	mockRepo.AssertExpectations(t)
}
