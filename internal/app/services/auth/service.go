// Package auth manages accounts and login sessions. Tokens are HS256 JWTs
// backed by a server-side session record, so logout invalidates a token
// before its expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/trackfolio/backend/internal/app/domain/auth"
	"github.com/trackfolio/backend/internal/app/storage"
	"github.com/trackfolio/backend/pkg/logger"
)

// ErrInvalidCredentials is returned for a bad username or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidSession is returned for a token that is malformed, expired, or
// logged out.
var ErrInvalidSession = errors.New("invalid session")

// Service implements registration, login, and session verification.
type Service struct {
	users    storage.UserStore
	sessions storage.SessionStore
	secret   []byte
	ttl      time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an auth service. A zero ttl defaults to 24 hours.
func New(users storage.UserStore, sessions storage.SessionStore, secret string, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		users:    users,
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
}

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (auth.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return auth.User{}, fmt.Errorf("username is required")
	}
	if len(password) < 8 {
		return auth.User{}, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return auth.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, auth.User{Username: username, PasswordHash: string(hash)})
	if err != nil {
		return auth.User{}, err
	}
	s.log.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// Login verifies the credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (auth.Session, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Session{}, ErrInvalidCredentials
		}
		return auth.Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return auth.Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      expires.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return auth.Session{}, fmt.Errorf("sign token: %w", err)
	}

	session := auth.Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := s.sessions.PutSession(ctx, session); err != nil {
		return auth.Session{}, fmt.Errorf("store session: %w", err)
	}
	s.log.WithField("user_id", user.ID).Info("user logged in")
	return session, nil
}

// Verify checks the token signature and the backing session record.
func (s *Service) Verify(ctx context.Context, token string) (auth.Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return auth.Session{}, ErrInvalidSession
	}

	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.Session{}, ErrInvalidSession
		}
		return auth.Session{}, err
	}
	if session.Expired(s.now().UTC()) {
		return auth.Session{}, ErrInvalidSession
	}
	return session, nil
}

// Logout closes the session; the token no longer verifies afterwards.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, token)
}
