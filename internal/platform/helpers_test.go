package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type controllableClock struct {
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.current = clock.current.Add(duration)
}

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	database, err := OpenDatabase(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "platform.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

type fakeIdentityProvider struct {
	identities map[string]Identity
	failures   map[string]error
	verifiers  map[string]string
}

func newFakeIdentityProvider() *fakeIdentityProvider {
	return &fakeIdentityProvider{
		identities: make(map[string]Identity),
		failures:   make(map[string]error),
		verifiers:  make(map[string]string),
	}
}

func (provider *fakeIdentityProvider) AuthCodeURL(state string, codeVerifier string) string {
	provider.verifiers[state] = codeVerifier
	return "https://idp.example.com/authorize?state=" + state
}

func (provider *fakeIdentityProvider) Exchange(ctx context.Context, code string, codeVerifier string) (Identity, error) {
	if failure, ok := provider.failures[code]; ok {
		return Identity{}, failure
	}
	identity, ok := provider.identities[code]
	if !ok {
		return Identity{}, newAuthError(AuthErrorInvalidGrant, "Unknown authorization code", nil)
	}
	return identity, nil
}

func newTestConfig() Config {
	return Config{
		SessionSigningKey:   []byte("secret-key-1234567890"),
		SessionIssuer:       "test-issuer",
		SessionCookieName:   "app_session",
		RefreshCookieName:   "app_refresh",
		FlowStateCookieName: "app_flow_state",
		SessionTTL:          time.Minute,
		RefreshTTL:          15 * time.Minute,
		FlowStateTTL:        5 * time.Minute,
		SameSiteMode:        http.SameSiteLaxMode,
		AllowInsecureHTTP:   true,
	}
}

type testPlatform struct {
	factory    *Factory
	database   *Database
	identity   *fakeIdentityProvider
	refresh    *DatabaseRefreshTokenStore
	votes      *DatabaseVoteTable
	clock      *controllableClock
	metrics    *CounterMetrics
	flowStates FlowStateStore
}

func newTestPlatform(t *testing.T) *testPlatform {
	t.Helper()
	database := newTestDatabase(t)
	clock := &controllableClock{current: time.Now().UTC()}
	identity := newFakeIdentityProvider()
	refresh := NewDatabaseRefreshTokenStore(database, clock)
	votes := NewDatabaseVoteTable(database)
	metrics := NewCounterMetrics()
	flowStates := NewMemoryFlowStateStore(5 * time.Minute)
	factory, err := NewFactory(Services{
		Config:        newTestConfig(),
		Users:         NewDatabaseUserStore(database),
		RefreshTokens: refresh,
		FlowStates:    flowStates,
		Identity:      identity,
		Votes:         votes,
		Clock:         clock,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("failed to build factory: %v", err)
	}
	return &testPlatform{
		factory:    factory,
		database:   database,
		identity:   identity,
		refresh:    refresh,
		votes:      votes,
		clock:      clock,
		metrics:    metrics,
		flowStates: flowStates,
	}
}

// browser carries cookies across simulated requests.
type browser struct {
	cookies map[string]string
}

func newBrowser() *browser {
	return &browser{cookies: make(map[string]string)}
}

func (state *browser) request() (*HTTPCookieJar, *httptest.ResponseRecorder) {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	for name, value := range state.cookies {
		request.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	recorder := httptest.NewRecorder()
	return NewHTTPCookieJar(recorder, request), recorder
}

func (state *browser) absorb(recorder *httptest.ResponseRecorder) {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(state.cookies, cookie.Name)
			continue
		}
		state.cookies[cookie.Name] = cookie.Value
	}
}

type committedWriter struct {
	http.ResponseWriter
}

func (committedWriter) Written() bool {
	return true
}

var errForcedFailure = errors.New("forced failure")

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %q: %v", raw, err)
	}
	return parsed
}
