package util

import (
	"errors"
	"strings"

	"github.com/real-rm/gochat/internal/constants"
)

// ErrInvalidAuthHeader is returned when the Authorization header is missing
// or not a bearer token.
var ErrInvalidAuthHeader = errors.New("invalid authorization header")

// ExtractBearerToken extracts the token from an Authorization header value
func ExtractBearerToken(header string) (string, error) {
	// No else needed: early return pattern (guard clause)
	if header == "" {
		return "", ErrInvalidAuthHeader
	}

	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(header, constants.BearerPrefix) {
		return "", ErrInvalidAuthHeader
	}

	token := strings.TrimSpace(header[constants.BearerPrefixLength:])
	// No else needed: early return pattern (guard clause)
	if token == "" {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}
