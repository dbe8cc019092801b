// Package sessionvalidator verifies flatmate access tokens.
package sessionvalidator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Clock      Clock
}

var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrTokenExpired      = errors.New("session.validator.expired")
)

// Claims identify the session user. Profile data stays in the user store.
type Claims struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	jwt.RegisteredClaims
}

// Validator checks signature, issuer, and validity window of access tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	clock      Clock
	parser     *jwt.Parser
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	issuer := strings.TrimSpace(configuration.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	validator := &Validator{
		signingKey: configuration.SigningKey,
		issuer:     issuer,
		clock:      clock,
	}
	validator.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return validator.clock.Now() }),
	)
	return validator, nil
}

// ValidateToken parses the access token and returns its claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrMissingToken)
	}
	claims := &Claims{}
	_, parseErr := validator.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return validator.signingKey, nil
	})
	switch {
	case errors.Is(parseErr, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
	case parseErr != nil:
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	case strings.TrimSpace(claims.UserID) == "":
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	case claims.Issuer != validator.issuer:
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidIssuer)
	}
	return claims, nil
}
