package authkit

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/flatmate/internal/apiresult"
	"github.com/tyemirov/flatmate/internal/platform"
	"go.uber.org/zap"
)

const (
	contextKeyClient = "platform_client"
	contextKeyUser   = "auth_user"
)

// RequireUser resolves the session user and injects the request client and user.
func RequireUser(dependencies Dependencies) gin.HandlerFunc {
	dependencies = dependencies.withDefaults()
	return func(contextGin *gin.Context) {
		client := ClientFor(contextGin, dependencies.Clients)
		user, userErr := client.GetUser(contextGin.Request.Context())
		if userErr != nil || user == nil {
			if userErr != nil && !errors.Is(userErr, platform.ErrSessionMissing) {
				dependencies.Logger.Warn("user lookup failed",
					zap.String("code", "auth.require_user.lookup_failed"),
					zap.Error(userErr))
			}
			dependencies.Metrics.Increment(platform.MetricRequestUnauthorized)
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindUnauthorized, "Unauthorized"))
			return
		}
		contextGin.Set(contextKeyClient, client)
		contextGin.Set(contextKeyUser, user)
		contextGin.Next()
	}
}

// ClientFromContext returns the client injected by RequireUser.
func ClientFromContext(contextGin *gin.Context) (platform.Client, bool) {
	value, exists := contextGin.Get(contextKeyClient)
	if !exists {
		return nil, false
	}
	client, ok := value.(platform.Client)
	return client, ok
}

// UserFromContext returns the user injected by RequireUser.
func UserFromContext(contextGin *gin.Context) (*platform.User, bool) {
	value, exists := contextGin.Get(contextKeyUser)
	if !exists {
		return nil, false
	}
	user, ok := value.(*platform.User)
	return user, ok && user != nil
}
