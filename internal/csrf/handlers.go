package csrf

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/flatmate/internal/apiresult"
	"github.com/tyemirov/flatmate/internal/platform"
	"go.uber.org/zap"
)

// HandleIssue serves GET /api/csrf-token.
func HandleIssue(issuer *Issuer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		token, issueErr := issuer.Issue(platform.NewHTTPCookieJar(contextGin.Writer, contextGin.Request))
		if issueErr != nil {
			logger.Error("csrf token generation failed",
				zap.String("code", "csrf.issue.failed"),
				zap.Error(issueErr))
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindInternal, "Failed to generate CSRF token"))
			return
		}
		apiresult.Write(contextGin, apiresult.Ok(gin.H{"csrfToken": token}))
	}
}

// Protect rejects unsafe requests whose X-CSRF-Token header does not verify.
func Protect(issuer *Issuer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		switch contextGin.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			contextGin.Next()
			return
		}
		jar := platform.NewHTTPCookieJar(contextGin.Writer, contextGin.Request)
		if verifyErr := issuer.Verify(jar, contextGin.GetHeader(HeaderName)); verifyErr != nil {
			logger.Info("csrf verification failed",
				zap.String("code", "csrf.verify.rejected"),
				zap.String("path", contextGin.FullPath()),
				zap.Error(verifyErr))
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindForbidden, "Invalid CSRF token"))
			return
		}
		contextGin.Next()
	}
}
