package platform

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

const googleProviderName = "google"

// GoogleTokenValidator validates Google-issued ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator builds the default Google validator backed by Google's published certificates.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

// GoogleIDTokenVerifier verifies Google ID tokens for one OAuth client.
type GoogleIDTokenVerifier struct {
	validator GoogleTokenValidator
	clientID  string
}

// NewGoogleIDTokenVerifier constructs a verifier for the supplied audience.
func NewGoogleIDTokenVerifier(validator GoogleTokenValidator, clientID string) *GoogleIDTokenVerifier {
	return &GoogleIDTokenVerifier{validator: validator, clientID: clientID}
}

// Verify validates signature, audience, and issuer, then maps the claims.
func (verifier *GoogleIDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (Identity, error) {
	payload, validateErr := verifier.validator.Validate(ctx, rawIDToken, verifier.clientID)
	if validateErr != nil {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "Invalid Google ID token", validateErr)
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "Unexpected ID token issuer", nil)
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	fullName, _ := payload.Claims["name"].(string)
	avatarURL, _ := payload.Claims["picture"].(string)
	return Identity{
		Provider:      googleProviderName,
		Subject:       subject,
		Issuer:        issuerValue,
		Email:         email,
		EmailVerified: emailVerified,
		FullName:      fullName,
		AvatarURL:     avatarURL,
	}, nil
}

// NewGoogleIdentityProvider wires Google's OAuth endpoints to the Google ID token verifier.
func NewGoogleIdentityProvider(clientID string, clientSecret string, redirectURL string, validator GoogleTokenValidator) *OAuthIdentityProvider {
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
	return NewOAuthIdentityProvider(oauthConfig, NewGoogleIDTokenVerifier(validator, clientID))
}
