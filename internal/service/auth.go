package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/pkg/jwt"
	"github.com/chemviz/equipment-visualizer/internal/repository"
)

// AuthService registers users and issues and revokes tokens
type AuthService struct {
	users    UserStore
	tokens   *jwt.Manager
	revoker  TokenRevoker
	// reserved names cannot be registered; nil reserves nothing
	reserved func(username string) bool
	log      *zap.Logger
}

// NewAuthService creates an AuthService
func NewAuthService(users UserStore, tokens *jwt.Manager, revoker TokenRevoker, reserved func(string) bool, log *zap.Logger) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		revoker:  revoker,
		reserved: reserved,
		log:      log.With(zap.String("component", "auth")),
	}
}

// Register creates a new user and returns JWT token
func (s *AuthService) Register(ctx context.Context, req *model.UserRegister) (*model.TokenResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if s.reserved != nil && s.reserved(username) {
		return nil, ErrUsernameReserved
	}

	// Check if user exists
	exists, err := s.users.UserExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUsernameExists
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	userID, err := s.users.CreateUser(ctx, username, passwordHash, req.Email, req.FirstName, req.LastName)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrUsernameExists
	}
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GenerateToken(userID, username)
	if err != nil {
		return nil, err
	}

	s.log.Info("User registered", zap.Int("user_id", userID), zap.String("username", username))

	return &model.TokenResponse{
		Success:     true,
		Message:     "User registered successfully",
		AccessToken: token,
		TokenType:   "bearer",
		User: &model.UserInfo{
			ID:        userID,
			Username:  username,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		},
	}, nil
}

// Login authenticates a user and returns JWT token
func (s *AuthService) Login(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil || !CheckPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &model.TokenResponse{
		Success:     true,
		Message:     "Login successful",
		AccessToken: token,
		TokenType:   "bearer",
		User:        user.Info(),
	}, nil
}

// Authenticate validates a bearer token and rejects revoked ones
func (s *AuthService) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway
func (s *AuthService) Logout(ctx context.Context, claims *jwt.Claims) error {
	ttl := s.tokens.TTL()
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := s.revoker.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	s.log.Info("User logged out", zap.Int("user_id", claims.UserID))
	return nil
}

// IsAdmin reports whether the user holds admin rights. Only the admin
// bootstrap grants them.
func (s *AuthService) IsAdmin(ctx context.Context, userID int) (bool, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.IsAdmin, nil
}

// GetUserByID returns user by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID int) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plain password
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
