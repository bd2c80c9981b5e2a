package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is who a token speaks for
type Identity struct {
	UserID      int64
	Username    string
	Avatar      string
	AvatarColor string
}

// Claims carried in chat access tokens
type Claims struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar,omitempty"`
	AvatarColor string `json:"avatar_color,omitempty"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

// Identity returns the user fields of the claims
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:      c.UserID,
		Username:    c.Username,
		Avatar:      c.Avatar,
		AvatarColor: c.AvatarColor,
	}
}

// Credentials pairs the claims with the raw token for keyring storage
func (c *Claims) Credentials(token string) *StoredCredentials {
	creds := &StoredCredentials{
		AccessToken: token,
		UserID:      c.UserID,
		Username:    c.Username,
		Avatar:      c.Avatar,
		AvatarColor: c.AvatarColor,
	}
	if c.ExpiresAt != nil {
		creds.ExpiresAt = c.ExpiresAt.Unix()
	}
	return creds
}

// IssueToken signs an HS256 access token for id
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      id.UserID,
		Username:    id.Username,
		Avatar:      id.Avatar,
		AvatarColor: id.AvatarColor,
		Type:        "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies signature and expiry
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseUnverified reads the claims without checking the signature. The
// client cannot verify its own token; the backend does that on every call.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}
