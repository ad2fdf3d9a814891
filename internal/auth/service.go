package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"thoth/internal/models"
	"thoth/internal/storage"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUsername  = storage.ErrDuplicateUsername
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrPasswordTooLong is bcrypt's 72 byte input limit.
	ErrPasswordTooLong    = bcrypt.ErrPasswordTooLong
)

// CredentialStore persists users keyed by a unique username.
type CredentialStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// Service registers and authenticates users and guards forms against CSRF.
type Service struct {
	users          CredentialStore
	cost           int
	csrfCookieName string
	csrfHeaderName string
	csrfFormField  string
}

// NewService constructs an auth service hashing with the supplied bcrypt cost.
func NewService(users CredentialStore, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		users:          users,
		cost:           cost,
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		csrfFormField:  "csrf_token",
	}
}

// Register stores a new user with a salted bcrypt hash of password.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrMissingCredentials
	}
	var invalid error
	switch {
	case password == "":
		invalid = ErrMissingCredentials
	case len(password) > maxPasswordBytes:
		invalid = ErrPasswordTooLong
	}
	if invalid != nil {
		// A taken username wins over password problems.
		if _, err := s.users.FindUserByUsername(ctx, username); err == nil {
			return ErrDuplicateUsername
		} else if !errors.Is(err, storage.ErrUserNotFound) {
			return err
		}
		return invalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return ErrPasswordTooLong
		}
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.users.CreateUser(ctx, username, string(hash)); err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return ErrDuplicateUsername
		}
		return err
	}
	return nil
}

// Authenticate reports whether password matches the stored hash for username.
// The error is reserved for storage failures.
func (s *Service) Authenticate(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	user, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// CSRFFormField returns the form field carrying the CSRF token.
func (s *Service) CSRFFormField() string {
	return s.csrfFormField
}
