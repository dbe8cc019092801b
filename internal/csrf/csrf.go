package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tyemirov/flatmate/internal/platform"
)

const (
	// DefaultCookieName holds the per-browser secret tokens are bound to.
	DefaultCookieName = "app_csrf"
	// HeaderName carries the token on unsafe requests.
	HeaderName = "X-CSRF-Token"

	defaultTTL        = time.Hour
	secretByteLength  = 32
	tokenIssuerSuffix = ".csrf"
)

var secretRandomSource io.Reader = rand.Reader

var (
	// ErrMissingSigningKey indicates the issuer was configured without a key.
	ErrMissingSigningKey = errors.New("csrf.missing_signing_key")
	// ErrMissingSecret indicates the request carries no secret cookie.
	ErrMissingSecret = errors.New("csrf.missing_secret")
	// ErrMissingToken indicates the request carries no token.
	ErrMissingToken = errors.New("csrf.missing_token")
	// ErrInvalidToken indicates a token that is malformed, expired, or bound to another secret.
	ErrInvalidToken = errors.New("csrf.invalid_token")
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures token issuance.
type Config struct {
	SigningKey        []byte
	Issuer            string
	TTL               time.Duration
	CookieName        string
	CookieDomain      string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	Clock             Clock
}

// Claims bind a token to the hash of the browser's secret cookie.
type Claims struct {
	Binding string `json:"bnd"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies double-submit CSRF tokens.
type Issuer struct {
	config Config
}

// NewIssuer validates the configuration and applies defaults.
func NewIssuer(config Config) (*Issuer, error) {
	if len(config.SigningKey) == 0 {
		return nil, fmt.Errorf("csrf.new: %w", ErrMissingSigningKey)
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if strings.TrimSpace(config.CookieName) == "" {
		config.CookieName = DefaultCookieName
	}
	if config.SameSiteMode == 0 {
		config.SameSiteMode = http.SameSiteLaxMode
	}
	config.Issuer = strings.TrimSpace(config.Issuer) + tokenIssuerSuffix
	if config.Clock == nil {
		config.Clock = systemClock{}
	}
	return &Issuer{config: config}, nil
}

// Issue returns a token bound to the jar's secret, creating the secret cookie on first use.
func (issuer *Issuer) Issue(jar platform.CookieJar) (string, error) {
	secret, found := jar.Get(issuer.config.CookieName)
	if !found {
		generated, generateErr := generateSecret()
		if generateErr != nil {
			return "", fmt.Errorf("csrf.issue: %w", generateErr)
		}
		if setErr := jar.Set(issuer.secretCookie(generated)); setErr != nil {
			return "", fmt.Errorf("csrf.issue.cookie: %w", setErr)
		}
		secret = generated
	}
	issuedAt := issuer.config.Clock.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Binding: bindingFor(secret),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(issuer.config.TTL)),
		},
	})
	signed, signErr := token.SignedString(issuer.config.SigningKey)
	if signErr != nil {
		return "", fmt.Errorf("csrf.issue.sign: %w", signErr)
	}
	return signed, nil
}

// Verify checks the token signature, expiry, and binding to the jar's secret.
func (issuer *Issuer) Verify(jar platform.CookieJar, tokenString string) error {
	if strings.TrimSpace(tokenString) == "" {
		return ErrMissingToken
	}
	secret, found := jar.Get(issuer.config.CookieName)
	if !found {
		return ErrMissingSecret
	}
	claims := &Claims{}
	_, parseErr := jwt.ParseWithClaims(tokenString, claims, func(parsed *jwt.Token) (interface{}, error) {
		return issuer.config.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return issuer.config.Clock.Now() }),
	)
	if parseErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, parseErr)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Binding), []byte(bindingFor(secret))) != 1 {
		return fmt.Errorf("%w: binding mismatch", ErrInvalidToken)
	}
	return nil
}

func (issuer *Issuer) secretCookie(secret string) *http.Cookie {
	return &http.Cookie{
		Name:     issuer.config.CookieName,
		Value:    secret,
		Path:     "/",
		Domain:   issuer.config.CookieDomain,
		Secure:   !issuer.config.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: issuer.config.SameSiteMode,
	}
}

func generateSecret() (string, error) {
	buffer := make([]byte, secretByteLength)
	if _, err := io.ReadFull(secretRandomSource, buffer); err != nil {
		return "", fmt.Errorf("csrf.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

func bindingFor(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
