package platform

import (
	"net/http"
	"time"
)

// Config configures issuers, cookies, and TTLs.
type Config struct {
	SessionSigningKey   []byte
	SessionIssuer       string
	CookieDomain        string
	SessionCookieName   string
	RefreshCookieName   string
	FlowStateCookieName string
	SessionTTL          time.Duration
	RefreshTTL          time.Duration
	FlowStateTTL        time.Duration
	SameSiteMode        http.SameSite
	AllowInsecureHTTP   bool
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock reading the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
