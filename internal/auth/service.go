// Package auth issues and validates the HS256 bearer tokens that identify
// lawyers and admins.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleLawyer = "lawyer"
	RoleAdmin  = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal of a request.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret), ttl: 24 * time.Hour, now: time.Now}
}

// IssueToken signs a token for the given user. Login lives in the account
// service; this is used by ops tooling and tests.
func (s *Service) IssueToken(userID uuid.UUID, role string) (string, error) {
	if role != RoleLawyer && role != RoleAdmin {
		return "", fmt.Errorf("invalid role %q", role)
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *Service) ValidateToken(token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if c.Role != RoleLawyer && c.Role != RoleAdmin {
		return Identity{}, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}
	return Identity{UserID: id, Role: c.Role}, nil
}
