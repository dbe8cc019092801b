package authkit

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/flatmate/internal/platform"
	"go.uber.org/zap"
)

const (
	defaultLoginPath       = "/login"
	defaultRedirectPath    = "/dashboard"
	genericCallbackMessage = "Authentication failed. Please try again."
	genericSignInMessage   = "Unable to start sign-in. Please try again."
)

// ClientFactory builds a platform client bound to one request's cookies.
type ClientFactory interface {
	ForRequest(jar platform.CookieJar) platform.Client
}

// Dependencies configures the auth routes.
type Dependencies struct {
	Clients         ClientFactory
	Logger          *zap.Logger
	Metrics         platform.MetricsRecorder
	LoginPath       string
	DefaultRedirect string
}

func (dependencies Dependencies) withDefaults() Dependencies {
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Metrics == nil {
		dependencies.Metrics = platform.NewNoopMetrics()
	}
	if strings.TrimSpace(dependencies.LoginPath) == "" {
		dependencies.LoginPath = defaultLoginPath
	}
	if !isLocalPath(dependencies.DefaultRedirect) {
		dependencies.DefaultRedirect = defaultRedirectPath
	}
	return dependencies
}

// MountAuthRoutes registers /auth/login, /auth/callback, /auth/logout, and /api/auth/session.
func MountAuthRoutes(router gin.IRouter, dependencies Dependencies) {
	dependencies = dependencies.withDefaults()
	router.GET("/auth/login", handleLogin(dependencies))
	router.GET("/auth/callback", handleCallback(dependencies))
	router.POST("/auth/logout", handleLogout(dependencies))
	router.GET("/api/auth/session", handleSession(dependencies))
}

// ClientFor builds the platform client for the current request.
func ClientFor(contextGin *gin.Context, clients ClientFactory) platform.Client {
	return clients.ForRequest(platform.NewHTTPCookieJar(contextGin.Writer, contextGin.Request))
}

func handleLogin(dependencies Dependencies) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		redirectTo := ""
		if next, present := contextGin.GetQuery("next"); present {
			redirectTo = dependencies.safeRedirect(next)
		}
		authURL, signInErr := ClientFor(contextGin, dependencies.Clients).SignInWithOAuth(contextGin.Request.Context(), redirectTo)
		if signInErr != nil {
			dependencies.Logger.Error("sign-in start failed",
				zap.String("code", "auth.login.start_failed"),
				zap.Error(signInErr))
			contextGin.Redirect(http.StatusFound, dependencies.loginErrorURL(genericSignInMessage))
			return
		}
		contextGin.Redirect(http.StatusFound, authURL)
	}
}

func handleCallback(dependencies Dependencies) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				dependencies.Metrics.Increment(platform.MetricCallbackFailure)
				dependencies.Logger.Error("auth callback panicked",
					zap.String("code", "auth.callback.panic"),
					zap.Any("panic", recovered))
				contextGin.Redirect(http.StatusFound, dependencies.loginErrorURL(genericCallbackMessage))
			}
		}()

		next, nextPresent := contextGin.GetQuery("next")
		redirectTo := dependencies.safeRedirect(next)

		code := contextGin.Query("code")
		if code != "" {
			session, exchangeErr := ClientFor(contextGin, dependencies.Clients).ExchangeCodeForSession(contextGin.Request.Context(), code)
			if exchangeErr != nil {
				var authErr *platform.AuthError
				if errors.As(exchangeErr, &authErr) {
					dependencies.Metrics.Increment(platform.MetricCallbackRejected)
					dependencies.Logger.Info("auth code rejected",
						zap.String("code", "auth.callback.rejected"),
						zap.String("reason", authErr.Code))
					contextGin.Redirect(http.StatusFound, dependencies.loginErrorURL(authErr.Message))
					return
				}
				dependencies.Metrics.Increment(platform.MetricCallbackFailure)
				dependencies.Logger.Error("auth code exchange failed",
					zap.String("code", "auth.callback.exchange_failed"),
					zap.Error(exchangeErr))
				contextGin.Redirect(http.StatusFound, dependencies.loginErrorURL(genericCallbackMessage))
				return
			}
			if !nextPresent && isLocalPath(session.RedirectTo) {
				redirectTo = session.RedirectTo
			}
			dependencies.Metrics.Increment(platform.MetricCallbackSuccess)
		}
		contextGin.Redirect(http.StatusFound, redirectTo)
	}
}

func handleLogout(dependencies Dependencies) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if signOutErr := ClientFor(contextGin, dependencies.Clients).SignOut(contextGin.Request.Context()); signOutErr != nil {
			dependencies.Logger.Warn("sign-out revoke failed",
				zap.String("code", "auth.logout.revoke_failed"),
				zap.Error(signOutErr))
		}
		dependencies.Metrics.Increment(platform.MetricSignOut)
		contextGin.Status(http.StatusNoContent)
	}
}

type sessionUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type sessionStatus struct {
	User          *sessionUser `json:"user"`
	Authenticated bool         `json:"authenticated"`
}

// handleSession always answers 200; a missing or broken session reads as anonymous.
func handleSession(dependencies Dependencies) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, resolveSessionStatus(contextGin, dependencies))
	}
}

func resolveSessionStatus(contextGin *gin.Context, dependencies Dependencies) (status sessionStatus) {
	defer func() {
		if recovered := recover(); recovered != nil {
			dependencies.Logger.Error("session lookup panicked",
				zap.String("code", "auth.session.panic"),
				zap.Any("panic", recovered))
			status = sessionStatus{}
		}
		if status.Authenticated {
			dependencies.Metrics.Increment(platform.MetricSessionAuthenticated)
		} else {
			dependencies.Metrics.Increment(platform.MetricSessionAnonymous)
		}
	}()
	user, userErr := ClientFor(contextGin, dependencies.Clients).GetUser(contextGin.Request.Context())
	if userErr != nil {
		if !errors.Is(userErr, platform.ErrSessionMissing) {
			dependencies.Logger.Warn("session lookup failed",
				zap.String("code", "auth.session.lookup_failed"),
				zap.Error(userErr))
		}
		return sessionStatus{}
	}
	if user == nil {
		return sessionStatus{}
	}
	metadata := user.UserMetadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return sessionStatus{
		User:          &sessionUser{ID: user.ID, Email: user.Email, UserMetadata: metadata},
		Authenticated: true,
	}
}

func (dependencies Dependencies) safeRedirect(next string) string {
	if isLocalPath(next) {
		return next
	}
	return dependencies.DefaultRedirect
}

func (dependencies Dependencies) loginErrorURL(message string) string {
	return dependencies.LoginPath + "?error=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
}

// isLocalPath accepts same-site absolute paths and rejects scheme-relative or backslash tricks.
func isLocalPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}
