package platform

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/flatmate/pkg/sessionvalidator"
)

func TestMintSessionTokenRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	_, _, err := MintSessionToken(fixedClock{timestamp: time.Unix(1700000000, 0)}, User{Email: "user@example.com"}, "issuer", []byte("signing-key"), time.Minute)
	if err == nil {
		t.Fatalf("expected error when user ID is empty")
	}

	expected := "jwt.mint.failure: subject must be non-empty"
	if err.Error() != expected {
		t.Fatalf("expected error %q, got %q", expected, err.Error())
	}
}

func TestMintSessionTokenCarriesClockTimestamps(t *testing.T) {
	t.Parallel()

	reference := time.Unix(1700000000, 0).UTC()
	user := User{ID: "user-123", Email: "user@example.com", UserMetadata: map[string]any{"full_name": "Demo User"}}
	token, expiresAt, err := MintSessionToken(fixedClock{timestamp: reference}, user, "issuer", []byte("signing-key"), 2*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected signed token")
	}
	expectedExpiry := reference.Add(2 * time.Minute)
	if !expiresAt.Equal(expectedExpiry) {
		t.Fatalf("expected expiry %v, got %v", expectedExpiry, expiresAt)
	}

	validator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte("signing-key"),
		Issuer:     "issuer",
		Clock:      fixedClock{timestamp: reference.Add(time.Minute)},
	})
	if validatorErr != nil {
		t.Fatalf("unexpected validator error: %v", validatorErr)
	}
	claims, validateErr := validator.ValidateToken(token)
	if validateErr != nil {
		t.Fatalf("expected minted token to validate: %v", validateErr)
	}
	if claims.UserID != "user-123" || claims.UserEmail != "user@example.com" {
		t.Fatalf("unexpected claims: %#v", claims)
	}

	// Profile data is read from the user store, so it stays out of the cookie.
	payload := jwt.MapClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(token, payload); parseErr != nil {
		t.Fatalf("decode token: %v", parseErr)
	}
	if _, present := payload["user_metadata"]; present {
		t.Fatalf("expected no user metadata in the session token, got %#v", payload)
	}
}
