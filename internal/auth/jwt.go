package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alecgard/riff/internal/user"
)

const (
	issuerName      = "riff"
	minSecretLength = 32
)

// DefaultJWTExpiry is how long password-mode tokens stay valid.
const DefaultJWTExpiry = 7 * 24 * time.Hour

type userClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// JWTIssuer mints and verifies the HS256 tokens used in password mode.
type JWTIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTIssuer returns an issuer signing with secret. A zero expiry means
// DefaultJWTExpiry.
func NewJWTIssuer(secret string, expiry time.Duration) (*JWTIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if expiry <= 0 {
		expiry = DefaultJWTExpiry
	}
	return &JWTIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// Issue returns a signed token for u and its expiry.
func (j *JWTIssuer) Issue(u *user.User) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.expiry)
	claims := userClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		UserID: u.ID,
		Email:  u.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry.
func (j *JWTIssuer) Verify(_ context.Context, token string) (*Identity, error) {
	var claims userClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Subject: claims.Subject}, nil
}
