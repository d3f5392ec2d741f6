// Package testutil provides shared helpers for tests across the module
package testutil

import (
	"testing"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/gochat/internal/auth"
)

// TestSecret is the JWT secret used across tests
const TestSecret = "test-jwt-secret-key-that-is-long-enough-0123456789"

// CreateTestLogger creates a logger writing to a temp dir at error level
func CreateTestLogger(t *testing.T) *golog.Logger {
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// MintTestToken issues a valid token for the given user signed with TestSecret
func MintTestToken(t *testing.T, userID, name string) string {
	t.Helper()
	validator := auth.NewJWTValidator(TestSecret)
	token, err := validator.MintToken(userID, name, time.Hour)
	if err != nil {
		t.Fatalf("Failed to mint test token: %v", err)
	}
	return token
}
