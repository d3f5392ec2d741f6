// Package auth handles the bearer token on both sides of the wire: the
// client derives its identity (and per-user queue destinations) from the
// token's claims, and the dev broker validates tokens during the handshake.
// The client never fetches or refreshes tokens itself; they are supplied by
// the caller.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/real-rm/gochat/internal/constants"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
)

// Claims represents the identity extracted from a token
type Claims struct {
	UserID string
	Name   string
}

// MessageQueue returns the per-user destination carrying this user's chat
// message feed.
func (c *Claims) MessageQueue() string {
	return constants.UserQueuePrefix + c.UserID + constants.MessageQueueSuffix
}

// NotificationQueue returns the per-user destination carrying this user's
// notifications.
func (c *Claims) NotificationQueue() string {
	return constants.UserQueuePrefix + c.UserID + constants.NotificationQueueSuffix
}

// ParseIdentity extracts the claims from a token without verifying the
// signature. The client is not the trust boundary — the broker verifies the
// token during the handshake — but the client needs the user id to build its
// queue destinations before connecting.
func ParseIdentity(tokenString string) (*Claims, error) {
	// No else needed: early return pattern (guard clause)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return claimsFromMap(mapClaims)
}

// JWTValidator handles token validation on the broker side
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a new JWT validator with the given secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
	}
}

// ValidateToken validates a JWT token and extracts the claims.
// It verifies:
// - Token signature
// - Token expiration
// - Required claims (user_id)
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	// No else needed: early return pattern (guard clause)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		// No else needed: early return pattern (guard clause)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})

	// No else needed: early return pattern (guard clause)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	return claimsFromMap(mapClaims)
}

// MintToken issues an HMAC-signed dev token for the given user. Used by the
// dev broker's token endpoint and by tests.
func (v *JWTValidator) MintToken(userID, name string, ttl time.Duration) (string, error) {
	// No else needed: early return pattern (guard clause)
	if userID == "" {
		return "", fmt.Errorf("%w: user_id required", ErrMissingClaims)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"name":    name,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}

// claimsFromMap extracts the required claims from a parsed claim map
func claimsFromMap(mapClaims jwt.MapClaims) (*Claims, error) {
	userID, ok := mapClaims["user_id"].(string)
	// No else needed: early return pattern (guard clause)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: user_id claim missing or invalid", ErrMissingClaims)
	}

	name, _ := mapClaims["name"].(string)
	// No else needed: optional operation (set default value)
	// If name is not present or empty, default to user_id
	if name == "" {
		name = userID
	}

	return &Claims{
		UserID: userID,
		Name:   name,
	}, nil
}
