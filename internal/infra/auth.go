// README: Driver token verification (JWT HS256) behind a small interface.
package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token holds the verified identity used by downstream middleware.
type Token struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Token, error)
}

type driverClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type jwtVerifier struct {
	key []byte
}

// NewJWTVerifier returns a TokenVerifier for HS256-signed driver tokens.
// The token subject is the driver uid; the optional "role" claim gates
// admin endpoints.
func NewJWTVerifier(secret string) TokenVerifier {
	return &jwtVerifier{key: []byte(secret)}
}

func (v *jwtVerifier) Verify(_ context.Context, raw string) (*Token, error) {
	tok, err := jwt.ParseWithClaims(raw, &driverClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*driverClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &Token{UID: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs a driver token. Used by tooling and tests; session
// issuance itself lives with the account service.
func IssueToken(secret, uid, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := driverClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
