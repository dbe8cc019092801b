package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/flatmate/internal/platform"
	"go.uber.org/zap/zaptest"
)

type stubClient struct {
	signInURL      string
	signInErr      error
	signInRedirect string

	session       *platform.Session
	exchangeErr   error
	exchangePanic bool
	exchangedCode string

	user      *platform.User
	userErr   error
	userPanic bool

	signOutErr error
	signedOut  bool
}

func (client *stubClient) SignInWithOAuth(ctx context.Context, redirectTo string) (string, error) {
	client.signInRedirect = redirectTo
	return client.signInURL, client.signInErr
}

func (client *stubClient) ExchangeCodeForSession(ctx context.Context, code string) (*platform.Session, error) {
	client.exchangedCode = code
	if client.exchangePanic {
		panic("exchange exploded")
	}
	if client.exchangeErr != nil {
		return nil, client.exchangeErr
	}
	return client.session, nil
}

func (client *stubClient) GetUser(ctx context.Context) (*platform.User, error) {
	if client.userPanic {
		panic("lookup exploded")
	}
	return client.user, client.userErr
}

func (client *stubClient) SignOut(ctx context.Context) error {
	client.signedOut = true
	return client.signOutErr
}

func (client *stubClient) Votes() platform.VoteTable {
	return nil
}

type stubFactory struct {
	client *stubClient
}

func (factory stubFactory) ForRequest(jar platform.CookieJar) platform.Client {
	return factory.client
}

func newStubRouter(t *testing.T, client *stubClient, metrics *platform.CounterMetrics) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	MountAuthRoutes(router, Dependencies{
		Clients: stubFactory{client: client},
		Logger:  zaptest.NewLogger(t),
		Metrics: metrics,
	})
	return router
}

func performRequest(router http.Handler, method string, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(method, target, nil))
	return recorder
}

func TestCallbackRedirects(t *testing.T) {
	testCases := []struct {
		name             string
		target           string
		client           *stubClient
		expectedLocation string
		expectedCode     string
		expectedMetric   string
	}{
		{
			name:             "success honours next",
			target:           "/auth/callback?code=abc&next=/listings/42",
			client:           &stubClient{session: &platform.Session{RedirectTo: "/ignored"}},
			expectedLocation: "/listings/42",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackSuccess,
		},
		{
			name:             "success defaults to dashboard",
			target:           "/auth/callback?code=abc",
			client:           &stubClient{session: &platform.Session{}},
			expectedLocation: "/dashboard",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackSuccess,
		},
		{
			name:             "success falls back to flow redirect",
			target:           "/auth/callback?code=abc",
			client:           &stubClient{session: &platform.Session{RedirectTo: "/messages"}},
			expectedLocation: "/messages",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackSuccess,
		},
		{
			name:             "offsite next replaced",
			target:           "/auth/callback?code=abc&next=//evil.example/phish",
			client:           &stubClient{session: &platform.Session{}},
			expectedLocation: "/dashboard",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackSuccess,
		},
		{
			name:             "missing code skips exchange",
			target:           "/auth/callback?next=/profile",
			client:           &stubClient{},
			expectedLocation: "/profile",
		},
		{
			name:             "backend rejection",
			target:           "/auth/callback?code=abc",
			client:           &stubClient{exchangeErr: &platform.AuthError{Code: platform.AuthErrorInvalidGrant, Message: "Code expired & reused"}},
			expectedLocation: "/login?error=Code%20expired%20%26%20reused",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackRejected,
		},
		{
			name:             "unexpected failure",
			target:           "/auth/callback?code=abc&next=/listings",
			client:           &stubClient{exchangeErr: errors.New("connection refused")},
			expectedLocation: "/login?error=Authentication%20failed.%20Please%20try%20again.",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackFailure,
		},
		{
			name:             "panic",
			target:           "/auth/callback?code=abc",
			client:           &stubClient{exchangePanic: true},
			expectedLocation: "/login?error=Authentication%20failed.%20Please%20try%20again.",
			expectedCode:     "abc",
			expectedMetric:   platform.MetricCallbackFailure,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			metrics := platform.NewCounterMetrics()
			router := newStubRouter(t, testCase.client, metrics)

			recorder := performRequest(router, http.MethodGet, testCase.target)

			if recorder.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d", recorder.Code)
			}
			if location := recorder.Header().Get("Location"); location != testCase.expectedLocation {
				t.Fatalf("expected Location %q, got %q", testCase.expectedLocation, location)
			}
			if testCase.client.exchangedCode != testCase.expectedCode {
				t.Fatalf("expected exchanged code %q, got %q", testCase.expectedCode, testCase.client.exchangedCode)
			}
			if testCase.expectedMetric != "" && metrics.Count(testCase.expectedMetric) != 1 {
				t.Fatalf("expected metric %s to be recorded, snapshot %#v", testCase.expectedMetric, metrics.Snapshot())
			}
		})
	}
}

func TestSessionEndpoint(t *testing.T) {
	testCases := []struct {
		name         string
		client       *stubClient
		expectedBody string
	}{
		{
			name: "authenticated",
			client: &stubClient{user: &platform.User{
				ID:           "user-1",
				Email:        "ada@example.com",
				UserMetadata: map[string]any{"full_name": "Ada"},
			}},
			expectedBody: `{"user":{"id":"user-1","email":"ada@example.com","user_metadata":{"full_name":"Ada"}},"authenticated":true}`,
		},
		{
			name:         "missing session",
			client:       &stubClient{userErr: platform.ErrSessionMissing},
			expectedBody: `{"user":null,"authenticated":false}`,
		},
		{
			name:         "backend failure",
			client:       &stubClient{userErr: errors.New("database unavailable")},
			expectedBody: `{"user":null,"authenticated":false}`,
		},
		{
			name:         "panic",
			client:       &stubClient{userPanic: true},
			expectedBody: `{"user":null,"authenticated":false}`,
		},
		{
			name:         "nil metadata",
			client:       &stubClient{user: &platform.User{ID: "user-2", Email: "bob@example.com"}},
			expectedBody: `{"user":{"id":"user-2","email":"bob@example.com","user_metadata":{}},"authenticated":true}`,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newStubRouter(t, testCase.client, platform.NewCounterMetrics())

			recorder := performRequest(router, http.MethodGet, "/api/auth/session")

			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", recorder.Code)
			}
			if recorder.Body.String() != testCase.expectedBody {
				t.Fatalf("expected body %s, got %s", testCase.expectedBody, recorder.Body.String())
			}
		})
	}
}

func TestLoginRedirectsToProvider(t *testing.T) {
	client := &stubClient{signInURL: "https://idp.example.com/authorize?state=s1"}
	router := newStubRouter(t, client, platform.NewCounterMetrics())

	recorder := performRequest(router, http.MethodGet, "/auth/login?next=/listings")
	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != client.signInURL {
		t.Fatalf("unexpected login response %d %q", recorder.Code, recorder.Header().Get("Location"))
	}
	if client.signInRedirect != "/listings" {
		t.Fatalf("expected next to be carried into the flow, got %q", client.signInRedirect)
	}

	performRequest(router, http.MethodGet, "/auth/login")
	if client.signInRedirect != "" {
		t.Fatalf("expected empty redirect without next, got %q", client.signInRedirect)
	}

	failing := &stubClient{signInErr: errors.New("redis down")}
	recorder = performRequest(newStubRouter(t, failing, platform.NewCounterMetrics()), http.MethodGet, "/auth/login")
	if location := recorder.Header().Get("Location"); location != "/login?error=Unable%20to%20start%20sign-in.%20Please%20try%20again." {
		t.Fatalf("unexpected failure location %q", location)
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	for _, signOutErr := range []error{nil, errors.New("revoke failed")} {
		client := &stubClient{signOutErr: signOutErr}
		metrics := platform.NewCounterMetrics()
		recorder := performRequest(newStubRouter(t, client, metrics), http.MethodPost, "/auth/logout")
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", recorder.Code)
		}
		if !client.signedOut {
			t.Fatalf("expected sign out to be attempted")
		}
		if metrics.Count(platform.MetricSignOut) != 1 {
			t.Fatalf("expected sign out metric")
		}
	}
}

func TestRequireUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := func(contextGin *gin.Context) {
		user, ok := UserFromContext(contextGin)
		if !ok {
			t.Fatalf("expected user in context")
		}
		if _, ok := ClientFromContext(contextGin); !ok {
			t.Fatalf("expected client in context")
		}
		contextGin.JSON(http.StatusOK, gin.H{"id": user.ID})
	}

	authenticated := gin.New()
	authenticated.GET("/private", RequireUser(Dependencies{Clients: stubFactory{client: &stubClient{user: &platform.User{ID: "user-1"}}}}), handler)
	recorder := performRequest(authenticated, http.MethodGet, "/private")
	if recorder.Code != http.StatusOK || recorder.Body.String() != `{"id":"user-1"}` {
		t.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}

	metrics := platform.NewCounterMetrics()
	anonymous := gin.New()
	anonymous.GET("/private", RequireUser(Dependencies{
		Clients: stubFactory{client: &stubClient{userErr: platform.ErrSessionMissing}},
		Metrics: metrics,
	}), handler)
	recorder = performRequest(anonymous, http.MethodGet, "/private")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil || body["error"] != "Unauthorized" {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if metrics.Count(platform.MetricRequestUnauthorized) != 1 {
		t.Fatalf("expected unauthorized metric")
	}
}

func TestIsLocalPath(t *testing.T) {
	t.Parallel()
	testCases := map[string]bool{
		"/dashboard":           true,
		"/listings?page=2":     true,
		"":                     false,
		"dashboard":            false,
		"//evil.example":       false,
		"/\\evil.example":      false,
		"https://evil.example": false,
		"/ok\r\nSet-Cookie: x": false,
	}
	for target, expected := range testCases {
		if isLocalPath(target) != expected {
			t.Fatalf("isLocalPath(%q) expected %v", target, expected)
		}
	}
}
