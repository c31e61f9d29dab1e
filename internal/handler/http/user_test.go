package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskboard/user-service/internal/auth"
	"github.com/taskboard/user-service/internal/domain"
	"github.com/taskboard/user-service/internal/event"
	"github.com/taskboard/user-service/internal/service"
	apperrors "github.com/taskboard/user-service/pkg/errors"
	"github.com/taskboard/user-service/pkg/health"
	pkgkafka "github.com/taskboard/user-service/pkg/kafka"
)

// ============================================================================
// Mock Repository
// ============================================================================

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// ============================================================================
// Test Fixtures
// ============================================================================

const testJWTSecret = "test-secret-key-for-handler-tests"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTManager() *auth.JWTManager {
	return auth.NewJWTManager(testJWTSecret, 24*time.Hour)
}

// newTestRouter builds the full HTTP stack with a mocked repository. Hashing
// runs at bcrypt.MinCost to keep the suite fast.
func newTestRouter(t *testing.T, repo *mockUserRepo) http.Handler {
	t.Helper()

	logger := newTestLogger()
	jwtManager := newTestJWTManager()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)

	kafkaProducer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), logger)
	t.Cleanup(func() { _ = kafkaProducer.Close() })
	producer := event.NewProducer(kafkaProducer, logger)

	svc := service.NewUserService(repo, hasher, jwtManager, producer, logger)

	return NewRouter(svc, jwtManager, health.NewHandler(), logger, CORSConfig{
		AllowedOrigins: []string{"*"},
		Environment:    "development",
	})
}

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(digest)
}

func sampleUser(t *testing.T) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:           "11111111-1111-1111-1111-111111111111",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hashForTest(t, "longenough1"),
		FirstName:    "Alice",
		LastName:     "Smith",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// ============================================================================
// Register
// ============================================================================

func TestRegister_Success(t *testing.T) {
	repo := new(mockUserRepo)
	repo.On("GetByEmail", mock.Anything, "alice@example.com").Return(nil, apperrors.ErrNotFound)
	repo.On("GetByUsername", mock.Anything, "alice").Return(nil, apperrors.ErrNotFound)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)

	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   "longenough1",
		"first_name": "Alice",
		"last_name":  "Smith",
	})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["token"])

	user := data["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "alice@example.com", user["email"])

	repo.AssertExpectations(t)
}

func TestRegister_ResponseNeverContainsDigest(t *testing.T) {
	repo := new(mockUserRepo)
	repo.On("GetByEmail", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	repo.On("GetByUsername", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   "longenough1",
		"first_name": "Alice",
		"last_name":  "Smith",
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password_hash")
	assert.NotContains(t, rr.Body.String(), "longenough1")
	assert.NotContains(t, rr.Body.String(), "$2a$")
}

func TestRegister_DuplicateEmail_Returns409(t *testing.T) {
	repo := new(mockUserRepo)
	repo.On("GetByEmail", mock.Anything, "alice@example.com").Return(sampleUser(t), nil)

	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   "alice2",
		"email":      "alice@example.com",
		"password":   "longenough1",
		"first_name": "Alice",
		"last_name":  "Smith",
	})

	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "ALREADY_EXISTS", errObj["code"])
	assert.Contains(t, errObj["message"], "email")

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_ShortPassword_Returns400(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   "short1",
		"first_name": "Alice",
		"last_name":  "Smith",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeBody(t, rr)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	fields := errObj["fields"].(map[string]any)
	assert.Contains(t, fields, "Password")

	// Invalid input is rejected before any store access.
	repo.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_InvalidUsername_Returns400(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username":   "al ice!",
		"email":      "alice@example.com",
		"password":   "longenough1",
		"first_name": "Alice",
		"last_name":  "Smith",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
}

func TestRegister_MalformedJSON_Returns400(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte(`{"username":`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_INPUT")
}

func TestRegister_WrongContentType_Returns415(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte(`a=b`)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_Success(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	repo.On("GetByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "longenough1",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["token"])
	assert.NotContains(t, rr.Body.String(), "password_hash")
}

func TestLogin_WrongPassword_Returns401(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	repo.On("GetByEmail", mock.Anything, "alice@example.com").Return(user, nil)

	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrongpassword1",
	})

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
}

func TestLogin_UnknownEmail_SameResponseAsWrongPassword(t *testing.T) {
	user := sampleUser(t)

	repoKnown := new(mockUserRepo)
	repoKnown.On("GetByEmail", mock.Anything, "alice@example.com").Return(user, nil)
	routerKnown := newTestRouter(t, repoKnown)

	repoUnknown := new(mockUserRepo)
	repoUnknown.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)
	routerUnknown := newTestRouter(t, repoUnknown)

	rrWrongPassword := doJSON(t, routerKnown, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrongpassword1",
	})
	rrUnknownEmail := doJSON(t, routerUnknown, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "ghost@example.com",
		"password": "whatever123",
	})

	require.Equal(t, http.StatusUnauthorized, rrWrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, rrUnknownEmail.Code)
	assert.JSONEq(t, rrWrongPassword.Body.String(), rrUnknownEmail.Body.String(),
		"login failures must be indistinguishable")
}

// ============================================================================
// Profile
// ============================================================================

func TestGetProfile_Success(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	repo.On("GetByID", mock.Anything, user.ID).Return(user, nil)

	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate(user.ID, user.Email)
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/me", token, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, rr.Body.String(), "password_hash")
}

func TestGetProfile_MissingToken_Returns401(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/me", "", nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestGetProfile_ExpiredToken_RejectedBeforeStoreAccess(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	expiredManager := auth.NewJWTManager(testJWTSecret, -time.Minute)
	token, err := expiredManager.Generate("11111111-1111-1111-1111-111111111111", "alice@example.com")
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/me", token, nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "UNAUTHORIZED")
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestGetProfile_GarbageToken_Returns401(t *testing.T) {
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/me", "not-a-jwt", nil)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestUpdateProfile_Success(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	repo.On("GetByID", mock.Anything, user.ID).Return(user, nil)
	repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)

	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate(user.ID, user.Email)
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodPut, "/api/v1/users/me", token, map[string]string{
		"first_name": "Alicia",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Alicia", data["first_name"])
	assert.Equal(t, "Smith", data["last_name"])

	repo.AssertExpectations(t)
}

func TestUpdateProfile_DigestFieldsInBody_AreIgnored(t *testing.T) {
	user := sampleUser(t)
	originalHash := user.PasswordHash

	repo := new(mockUserRepo)
	repo.On("GetByID", mock.Anything, user.ID).Return(user, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.PasswordHash == originalHash && u.Username == "alice"
	})).Return(nil)

	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate(user.ID, user.Email)
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodPut, "/api/v1/users/me", token, map[string]string{
		"first_name":    "Alicia",
		"username":      "mallory",
		"password_hash": "$2a$04$attackercontrolled",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	repo.AssertExpectations(t)
}

func TestUpdateProfile_InvalidEmail_Returns400(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate(user.ID, user.Email)
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodPut, "/api/v1/users/me", token, map[string]string{
		"email": "not-an-email",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

// ============================================================================
// Lookup by ID
// ============================================================================

func TestGetUser_Success(t *testing.T) {
	user := sampleUser(t)
	repo := new(mockUserRepo)
	repo.On("GetByID", mock.Anything, user.ID).Return(user, nil)

	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate("22222222-2222-2222-2222-222222222222", "bob@example.com")
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/"+user.ID, token, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	assert.Equal(t, user.ID, data["id"])
}

func TestGetUser_NotFound_Returns404(t *testing.T) {
	repo := new(mockUserRepo)
	repo.On("GetByID", mock.Anything, "missing-id").Return(nil, apperrors.NotFound("user", "missing-id"))

	router := newTestRouter(t, repo)

	token, err := newTestJWTManager().Generate("22222222-2222-2222-2222-222222222222", "bob@example.com")
	require.NoError(t, err)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/users/missing-id", token, nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_FOUND")
}

// ============================================================================
// Health endpoints
// ============================================================================

func TestHealthLive_Returns200(t *testing.T) {
	router := newTestRouter(t, new(mockUserRepo))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}
