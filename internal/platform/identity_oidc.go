package platform

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const oidcProviderName = "oidc"

// OIDCIDTokenVerifier verifies ID tokens against a discovered OIDC issuer.
type OIDCIDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// Verify checks the token signature, audience, and expiry, then maps the claims.
func (verifier *OIDCIDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (Identity, error) {
	idToken, verifyErr := verifier.verifier.Verify(ctx, rawIDToken)
	if verifyErr != nil {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "Invalid ID token", verifyErr)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if claimsErr := idToken.Claims(&claims); claimsErr != nil {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "Unreadable ID token claims", claimsErr)
	}
	return Identity{
		Provider:      oidcProviderName,
		Subject:       idToken.Subject,
		Issuer:        idToken.Issuer,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		FullName:      claims.Name,
		AvatarURL:     claims.Picture,
	}, nil
}

// NewOIDCIdentityProvider discovers the issuer's endpoints and keys.
func NewOIDCIdentityProvider(ctx context.Context, issuerURL string, clientID string, clientSecret string, redirectURL string) (*OAuthIdentityProvider, error) {
	provider, discoveryErr := oidc.NewProvider(ctx, issuerURL)
	if discoveryErr != nil {
		return nil, fmt.Errorf("identity.oidc.discovery: %w", discoveryErr)
	}
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	verifier := &OIDCIDTokenVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}
	return NewOAuthIdentityProvider(oauthConfig, verifier), nil
}
