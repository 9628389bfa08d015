package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusverse/campus/backend-go/internal/typeid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
)

const bcryptCost = 12

// StoredUser is an account row as the store keeps it.
type StoredUser struct {
	ID           string
	Username     string
	PlayerName   string
	Email        string
	PasswordHash string
	AvatarID     string
	CreatedAt    time.Time
}

// Store persists accounts. Lookups return ErrUserNotFound when nothing matches and
// CreateUser returns ErrEmailTaken on a duplicate email.
type Store interface {
	CreateUser(ctx context.Context, u StoredUser) (StoredUser, error)
	GetUserByEmail(ctx context.Context, email string) (StoredUser, error)
	GetUserByID(ctx context.Context, id string) (StoredUser, error)
	UpdateProfile(ctx context.Context, id, playerName, avatarID string) (StoredUser, error)
}

type Service struct {
	store     Store
	jwtSecret []byte
	tokenTTL  time.Duration
	cost      int
	now       func() time.Time
}

func NewService(store Store, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		cost:      bcryptCost,
		now:       time.Now,
	}
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// User is the public account view. PlayerName and AvatarID are what the campus client
// sends in its join frame.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	PlayerName string `json:"playerName"`
	Email      string `json:"email"`
	AvatarID   string `json:"avatarID"`
}

func toUser(u StoredUser) User {
	playerName := u.PlayerName
	if playerName == "" {
		playerName = u.Username
	}
	return User{
		ID:         u.ID,
		Username:   u.Username,
		PlayerName: playerName,
		Email:      u.Email,
		AvatarID:   u.AvatarID,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, StoredUser{
		ID:           typeid.NewUserID(),
		Username:     username,
		PlayerName:   username,
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issueToken(created.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: toUser(created)}, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	stored, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(stored.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: toUser(stored)}, nil
}

// UpdateProfile changes the display name and avatar shown on the campus map.
func (s *Service) UpdateProfile(ctx context.Context, userID, playerName, avatarID string) (*User, error) {
	updated, err := s.store.UpdateProfile(ctx, userID, playerName, avatarID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	u := toUser(updated)
	return &u, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	stored, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u := toUser(stored)
	return &u, nil
}

func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("invalid token subject")
	}

	return userID, nil
}

func (s *Service) issueToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
