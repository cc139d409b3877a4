package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

const tokenTTL = 12 * time.Hour

// Claims carried in reviewer access tokens
type Claims struct {
	ReviewerID uuid.UUID      `json:"reviewer_id"`
	Role       reviewers.Role `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	reviewers reviewers.Repository
	secret    []byte
}

func NewService(reviewerRepo reviewers.Repository, secret string) *Service {
	return &Service{reviewers: reviewerRepo, secret: []byte(secret)}
}

// Login checks credentials and issues a signed access token
func (s *Service) Login(ctx context.Context, email, password string) (string, *reviewers.Reviewer, error) {
	reviewer, err := s.reviewers.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if reviewer == nil || !reviewer.Active {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(reviewer.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		ReviewerID: reviewer.ID,
		Role:       reviewer.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewer.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, reviewer, nil
}

// ParseToken validates a token and returns its claims
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// CreateReviewer registers a reviewer account with a hashed password
func (s *Service) CreateReviewer(ctx context.Context, name, email, password string, role reviewers.Role) (*reviewers.Reviewer, error) {
	existing, err := s.reviewers.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	reviewer := &reviewers.Reviewer{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.reviewers.Create(ctx, reviewer); err != nil {
		return nil, err
	}
	return reviewer, nil
}

// HashPassword hashes a plaintext password for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
