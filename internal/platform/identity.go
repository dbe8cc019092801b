package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Identity is what an identity provider asserts about a signed-in person.
type Identity struct {
	Provider      string
	Subject       string
	Issuer        string
	Email         string
	EmailVerified bool
	FullName      string
	AvatarURL     string
}

// Metadata renders the identity as free-form user metadata.
func (identity Identity) Metadata() map[string]any {
	metadata := map[string]any{
		"provider":       identity.Provider,
		"sub":            identity.Subject,
		"email_verified": identity.EmailVerified,
	}
	if identity.Issuer != "" {
		metadata["iss"] = identity.Issuer
	}
	if identity.FullName != "" {
		metadata["full_name"] = identity.FullName
	}
	if identity.AvatarURL != "" {
		metadata["avatar_url"] = identity.AvatarURL
	}
	return metadata
}

// IdentityProvider runs the authorization code flow against an external provider.
type IdentityProvider interface {
	AuthCodeURL(state string, codeVerifier string) string
	Exchange(ctx context.Context, code string, codeVerifier string) (Identity, error)
}

// IDTokenVerifier turns a raw ID token into a verified Identity.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (Identity, error)
}

// OAuthIdentityProvider exchanges codes with PKCE and verifies the returned ID token.
type OAuthIdentityProvider struct {
	oauthConfig *oauth2.Config
	verifier    IDTokenVerifier
}

// NewOAuthIdentityProvider combines an OAuth client configuration with an ID token verifier.
func NewOAuthIdentityProvider(oauthConfig *oauth2.Config, verifier IDTokenVerifier) *OAuthIdentityProvider {
	return &OAuthIdentityProvider{oauthConfig: oauthConfig, verifier: verifier}
}

// AuthCodeURL builds the provider consent URL with an S256 PKCE challenge.
func (provider *OAuthIdentityProvider) AuthCodeURL(state string, codeVerifier string) string {
	return provider.oauthConfig.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

// Exchange redeems the authorization code and verifies the identity it yields.
func (provider *OAuthIdentityProvider) Exchange(ctx context.Context, code string, codeVerifier string) (Identity, error) {
	token, exchangeErr := provider.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if exchangeErr != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(exchangeErr, &retrieveErr) {
			message := retrieveErr.ErrorDescription
			if strings.TrimSpace(message) == "" {
				message = "Authorization code was rejected"
			}
			return Identity{}, newAuthError(AuthErrorInvalidGrant, message, exchangeErr)
		}
		return Identity{}, fmt.Errorf("identity.exchange: %w", exchangeErr)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || strings.TrimSpace(rawIDToken) == "" {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "Identity provider returned no ID token", nil)
	}
	identity, verifyErr := provider.verifier.Verify(ctx, rawIDToken)
	if verifyErr != nil {
		return Identity{}, verifyErr
	}
	if identity.Subject == "" || identity.Email == "" {
		return Identity{}, newAuthError(AuthErrorInvalidIDToken, "ID token is missing subject or email", nil)
	}
	if !identity.EmailVerified {
		return Identity{}, newAuthError(AuthErrorUnverifiedEmail, "Email address is not verified", nil)
	}
	return identity, nil
}
