package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/animgen/api/internal/auth"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/store"
)

// UserService handles account lookup, implicit sync and key rotation
type UserService struct {
	store          *store.Store
	defaultCredits int
}

// NewUserService creates a new user service
func NewUserService(userStore *store.Store, defaultCredits int) *UserService {
	return &UserService{
		store:          userStore,
		defaultCredits: defaultCredits,
	}
}

// GetOrCreate resolves the authenticated user from token claims,
// creating the account on first sight (sync-on-login). New accounts
// start with the configured default credit balance.
func (s *UserService) GetOrCreate(ctx context.Context, claims *auth.Claims) (*model.User, error) {
	user, err := s.store.GetUserByClerkID(ctx, claims.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	email := claims.Email
	if email == "" {
		email = fmt.Sprintf("%s@users.animgen", claims.UserID)
	}
	clerkID := claims.UserID
	user = &model.User{
		ID:      uuid.New().String(),
		ClerkID: &clerkID,
		Email:   email,
		Credits: s.defaultCredits,
		Plan:    "free",
	}
	if claims.Name != "" {
		name := claims.Name
		user.Name = &name
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// A concurrent first login may have created the record already.
		if existing, gerr := s.store.GetUserByClerkID(ctx, claims.UserID); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return user, nil
}

// RotateAPIKey generates and stores a fresh personal API key
func (s *UserService) RotateAPIKey(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	apiKey := hex.EncodeToString(buf)

	if err := s.store.UpdateAPIKey(ctx, userID, apiKey); err != nil {
		return "", err
	}
	return apiKey, nil
}

// Usage returns the user's credit and generation counters
func (s *UserService) Usage(ctx context.Context, userID string) (*model.UsageResponse, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.UsageResponse{
		Credits:         user.Credits,
		GenerationCount: user.GenerationCount,
		Plan:            user.Plan,
	}, nil
}
