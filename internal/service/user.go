package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/user-service/internal/auth"
	"github.com/taskboard/user-service/internal/domain"
	"github.com/taskboard/user-service/internal/event"
	"github.com/taskboard/user-service/internal/repository"
	apperrors "github.com/taskboard/user-service/pkg/errors"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// dummyDigest is a throwaway bcrypt digest (cost 12) verified against when a
// login names an unknown email, so that path takes about as long as a wrong
// password and response timing does not reveal which accounts exist.
const dummyDigest = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]{3,30}$`)

// UserService implements the business logic for registration, login, and
// profile management.
type UserService struct {
	userRepo   repository.UserRepository
	hasher     *auth.PasswordHasher
	jwtManager *auth.JWTManager
	producer   *event.Producer
	logger     *slog.Logger
}

// NewUserService creates a new user service.
func NewUserService(
	userRepo repository.UserRepository,
	hasher *auth.PasswordHasher,
	jwtManager *auth.JWTManager,
	producer *event.Producer,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		userRepo:   userRepo,
		hasher:     hasher,
		jwtManager: jwtManager,
		producer:   producer,
		logger:     logger,
	}
}

// --- Input types ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// --- Operations ---

// Register creates a new user account, hashes the password, and returns the
// user with a session token. The pre-checks on email and username exist only
// to give fast, friendly responses; the database unique constraints remain
// the authority when two registrations race.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, string, error) {
	if err := validateRegisterInput(input); err != nil {
		return nil, "", err
	}

	if _, err := s.userRepo.GetByEmail(ctx, input.Email); err == nil {
		return nil, "", apperrors.AlreadyExists("user", "email", input.Email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, "", fmt.Errorf("check email: %w", err)
	}

	if _, err := s.userRepo.GetByUsername(ctx, input.Username); err == nil {
		return nil, "", apperrors.AlreadyExists("user", "username", input.Username)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, "", fmt.Errorf("check username: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.jwtManager.Generate(user.ID, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, token, nil
}

// Login authenticates a user with email and password, returning the user and
// a session token. An unknown email and a wrong password produce the same
// error so callers cannot probe which accounts exist.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*domain.User, string, error) {
	if input.Email == "" {
		return nil, "", apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, "", apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.hasher.Verify(dummyDigest, input.Password)
			return nil, "", apperrors.Unauthorized("invalid email or password")
		}
		return nil, "", fmt.Errorf("get user by email: %w", err)
	}

	if !s.hasher.Verify(user.PasswordHash, input.Password) {
		return nil, "", apperrors.Unauthorized("invalid email or password")
	}

	token, err := s.jwtManager.Generate(user.ID, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return user, token, nil
}

// GetProfile returns the profile of the authenticated user.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies a partial profile update and returns the fresh user.
// Only email, first name, and last name can change through this path.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error) {
	if err := validateProfileUpdate(update); err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := s.producer.PublishUserUpdated(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.updated event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "profile updated",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// GetUser returns a user by ID for sibling services. The same lookup as
// GetProfile; kept separate so inter-service reads can diverge later.
func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.GetProfile(ctx, id)
}

// ValidateToken verifies a session token and returns its claims. Exposed for
// the request authentication middleware.
func (s *UserService) ValidateToken(token string) (*auth.Claims, error) {
	claims, err := s.jwtManager.Validate(token)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}
	return claims, nil
}

// --- validation helpers ---

func validateRegisterInput(input RegisterInput) error {
	if input.Username == "" {
		return apperrors.InvalidInput("username is required")
	}
	if !usernamePattern.MatchString(input.Username) {
		return apperrors.InvalidInput("username must be 3-30 alphanumeric characters")
	}
	if input.Email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if len(input.Password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if input.FirstName == "" {
		return apperrors.InvalidInput("first name is required")
	}
	if input.LastName == "" {
		return apperrors.InvalidInput("last name is required")
	}
	return nil
}

func validateProfileUpdate(update domain.ProfileUpdate) error {
	if update.Empty() {
		return apperrors.InvalidInput("no fields to update")
	}
	if update.Email != nil && *update.Email == "" {
		return apperrors.InvalidInput("email cannot be empty")
	}
	if update.FirstName != nil && *update.FirstName == "" {
		return apperrors.InvalidInput("first name cannot be empty")
	}
	if update.LastName != nil && *update.LastName == "" {
		return apperrors.InvalidInput("last name cannot be empty")
	}
	return nil
}
