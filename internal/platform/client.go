package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tyemirov/flatmate/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Session is the outcome of a successful code exchange.
type Session struct {
	User       User
	ExpiresAt  time.Time
	RedirectTo string
}

// Client is a request-scoped handle to the platform.
type Client interface {
	// SignInWithOAuth starts a PKCE sign-in and returns the provider URL to redirect to.
	SignInWithOAuth(ctx context.Context, redirectTo string) (string, error)
	// ExchangeCodeForSession redeems an authorization code and stores the session cookies.
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)
	// GetUser resolves the session user, refreshing the session when the access token lapsed.
	GetUser(ctx context.Context) (*User, error)
	// SignOut revokes the refresh token and clears session cookies.
	SignOut(ctx context.Context) error
	// Votes returns the vote table restricted to the session user's rows.
	Votes() VoteTable
}

// Services are the shared dependencies request clients are built from.
type Services struct {
	Config        Config
	Users         UserStore
	RefreshTokens RefreshTokenStore
	FlowStates    FlowStateStore
	Identity      IdentityProvider
	Votes         VoteTable
	Clock         Clock
	Logger        *zap.Logger
	Metrics       MetricsRecorder
}

// Factory builds request-scoped clients. It holds no per-user state.
type Factory struct {
	services  Services
	validator *sessionvalidator.Validator
}

// NewFactory validates the services and prepares the session validator.
func NewFactory(services Services) (*Factory, error) {
	switch {
	case services.Users == nil:
		return nil, errors.New("platform.factory: user store is required")
	case services.RefreshTokens == nil:
		return nil, errors.New("platform.factory: refresh token store is required")
	case services.FlowStates == nil:
		return nil, errors.New("platform.factory: flow state store is required")
	case services.Identity == nil:
		return nil, errors.New("platform.factory: identity provider is required")
	case services.Votes == nil:
		return nil, errors.New("platform.factory: vote table is required")
	}
	if services.Clock == nil {
		services.Clock = NewSystemClock()
	}
	if services.Logger == nil {
		services.Logger = zap.NewNop()
	}
	if services.Metrics == nil {
		services.Metrics = NewNoopMetrics()
	}
	validator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: services.Config.SessionSigningKey,
		Issuer:     services.Config.SessionIssuer,
		Clock:      services.Clock,
	})
	if validatorErr != nil {
		return nil, fmt.Errorf("platform.factory: %w", validatorErr)
	}
	return &Factory{services: services, validator: validator}, nil
}

// ForRequest binds a new client to the request's cookie jar.
func (factory *Factory) ForRequest(jar CookieJar) Client {
	return &requestClient{
		services:  &factory.services,
		validator: factory.validator,
		jar:       jar,
	}
}

type requestClient struct {
	services  *Services
	validator *sessionvalidator.Validator
	jar       CookieJar
	user      *User
}

func (client *requestClient) SignInWithOAuth(ctx context.Context, redirectTo string) (string, error) {
	codeVerifier := oauth2.GenerateVerifier()
	state, issueErr := client.services.FlowStates.Issue(ctx, FlowState{CodeVerifier: codeVerifier, RedirectTo: redirectTo})
	if issueErr != nil {
		return "", fmt.Errorf("platform.sign_in: %w", issueErr)
	}
	configuration := client.services.Config
	client.storeCookie(configuration.flowStateCookie(state, client.services.Clock.Now().Add(configuration.FlowStateTTL)))
	return client.services.Identity.AuthCodeURL(state, codeVerifier), nil
}

func (client *requestClient) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, newAuthError(AuthErrorMissingCode, "Missing authorization code", nil)
	}
	configuration := client.services.Config
	state, found := client.jar.Get(configuration.FlowStateCookieName)
	if !found {
		return nil, newAuthError(AuthErrorFlowStateMissing, "Sign-in session not found", nil)
	}
	flow, consumeErr := client.services.FlowStates.Consume(ctx, state)
	client.storeCookie(configuration.expiredCookie(configuration.FlowStateCookieName))
	switch {
	case errors.Is(consumeErr, ErrFlowStateNotFound):
		return nil, newAuthError(AuthErrorFlowStateMissing, "Sign-in session not found", consumeErr)
	case errors.Is(consumeErr, ErrFlowStateExpired):
		return nil, newAuthError(AuthErrorFlowStateExpired, "Sign-in session expired", consumeErr)
	case consumeErr != nil:
		return nil, fmt.Errorf("platform.exchange.flow_state: %w", consumeErr)
	}

	identity, exchangeErr := client.services.Identity.Exchange(ctx, code, flow.CodeVerifier)
	if exchangeErr != nil {
		return nil, exchangeErr
	}
	user, upsertErr := client.services.Users.UpsertIdentity(ctx, identity)
	if upsertErr != nil {
		return nil, fmt.Errorf("platform.exchange.user: %w", upsertErr)
	}
	expiresAt, sessionErr := client.startSession(ctx, user, "")
	if sessionErr != nil {
		return nil, fmt.Errorf("platform.exchange.session: %w", sessionErr)
	}
	client.user = &user
	return &Session{User: user, ExpiresAt: expiresAt, RedirectTo: flow.RedirectTo}, nil
}

func (client *requestClient) GetUser(ctx context.Context) (*User, error) {
	if client.user != nil {
		resolved := *client.user
		return &resolved, nil
	}
	if token, found := client.jar.Get(client.services.Config.SessionCookieName); found {
		claims, validateErr := client.validator.ValidateToken(token)
		if validateErr == nil {
			user, userErr := client.services.Users.GetUser(ctx, claims.UserID)
			if userErr != nil {
				if errors.Is(userErr, ErrUserNotFound) {
					return nil, fmt.Errorf("platform.get_user: %w", ErrSessionMissing)
				}
				return nil, fmt.Errorf("platform.get_user: %w", userErr)
			}
			client.user = &user
			resolved := user
			return &resolved, nil
		}
		client.services.Logger.Debug("session token rejected",
			zap.String("code", "platform.session.invalid_token"),
			zap.Error(validateErr))
	}
	return client.refreshSession(ctx)
}

func (client *requestClient) refreshSession(ctx context.Context) (*User, error) {
	configuration := client.services.Config
	refreshOpaque, found := client.jar.Get(configuration.RefreshCookieName)
	if !found {
		return nil, fmt.Errorf("platform.get_user: %w", ErrSessionMissing)
	}
	userID, tokenID, _, validateErr := client.services.RefreshTokens.Validate(ctx, refreshOpaque)
	if validateErr != nil {
		if isRefreshTokenRejection(validateErr) {
			client.clearSessionCookies()
			return nil, fmt.Errorf("platform.refresh: %w", errors.Join(ErrSessionMissing, validateErr))
		}
		return nil, fmt.Errorf("platform.refresh: %w", validateErr)
	}
	user, userErr := client.services.Users.GetUser(ctx, userID)
	if userErr != nil {
		if errors.Is(userErr, ErrUserNotFound) {
			client.clearSessionCookies()
			return nil, fmt.Errorf("platform.refresh: %w", ErrSessionMissing)
		}
		return nil, fmt.Errorf("platform.refresh: %w", userErr)
	}
	// Only the request that revokes the presented token may mint its successor.
	if revokeErr := client.services.RefreshTokens.Revoke(ctx, tokenID); revokeErr != nil {
		if isRefreshTokenRejection(revokeErr) {
			client.services.Metrics.Increment(MetricSessionRefreshReplayed)
			client.clearSessionCookies()
			return nil, fmt.Errorf("platform.refresh: %w", errors.Join(ErrSessionMissing, revokeErr))
		}
		return nil, fmt.Errorf("platform.refresh: %w", revokeErr)
	}
	if _, sessionErr := client.startSession(ctx, user, tokenID); sessionErr != nil {
		return nil, fmt.Errorf("platform.refresh: %w", sessionErr)
	}
	client.services.Metrics.Increment(MetricSessionRefreshed)
	client.user = &user
	resolved := user
	return &resolved, nil
}

func (client *requestClient) SignOut(ctx context.Context) error {
	configuration := client.services.Config
	var revokeErr error
	if refreshOpaque, found := client.jar.Get(configuration.RefreshCookieName); found {
		_, tokenID, _, validateErr := client.services.RefreshTokens.Validate(ctx, refreshOpaque)
		if validateErr == nil && tokenID != "" {
			if err := client.services.RefreshTokens.Revoke(ctx, tokenID); err != nil && !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
				revokeErr = fmt.Errorf("platform.sign_out: %w", err)
			}
		}
	}
	client.clearSessionCookies()
	client.user = nil
	return revokeErr
}

func (client *requestClient) Votes() VoteTable {
	return rowLevelVoteTable{client: client, table: client.services.Votes}
}

func (client *requestClient) startSession(ctx context.Context, user User, previousTokenID string) (time.Time, error) {
	configuration := client.services.Config
	clock := client.services.Clock
	sessionToken, sessionExpiresAt, mintErr := MintSessionToken(clock, user, configuration.SessionIssuer, configuration.SessionSigningKey, configuration.SessionTTL)
	if mintErr != nil {
		return time.Time{}, mintErr
	}
	refreshExpiresAt := clock.Now().Add(configuration.RefreshTTL)
	_, refreshOpaque, issueErr := client.services.RefreshTokens.Issue(ctx, user.ID, refreshExpiresAt.Unix(), previousTokenID)
	if issueErr != nil {
		return time.Time{}, issueErr
	}
	client.storeCookie(configuration.sessionCookie(sessionToken, sessionExpiresAt))
	client.storeCookie(configuration.refreshCookie(refreshOpaque, refreshExpiresAt))
	return sessionExpiresAt, nil
}

func (client *requestClient) clearSessionCookies() {
	configuration := client.services.Config
	client.storeCookie(configuration.expiredCookie(configuration.SessionCookieName))
	client.storeCookie(configuration.expiredCookie(configuration.RefreshCookieName))
}

// storeCookie is best-effort: a committed response must not fail the caller.
func (client *requestClient) storeCookie(cookie *http.Cookie) {
	if err := client.jar.Set(cookie); err != nil {
		client.services.Metrics.Increment(MetricSessionCookieDropped)
		client.services.Logger.Debug("cookie write skipped",
			zap.String("code", "platform.cookies.write_skipped"),
			zap.String("cookie", cookie.Name),
			zap.Error(err))
	}
}

func isRefreshTokenRejection(err error) bool {
	return errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrRefreshTokenRevoked) ||
		errors.Is(err, ErrRefreshTokenAlreadyRevoked) ||
		errors.Is(err, ErrRefreshTokenExpired) ||
		errors.Is(err, ErrRefreshTokenEmptyOpaque)
}
