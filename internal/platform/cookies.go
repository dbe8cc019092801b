package platform

import (
	"net/http"
	"strings"
	"time"
)

// CookieJar is the request-scoped view of cookies a Client reads and writes.
type CookieJar interface {
	// Get returns the value of the named cookie, including values set earlier in the same request.
	Get(name string) (string, bool)
	// Set writes a response cookie.
	Set(cookie *http.Cookie) error
}

type writtenReporter interface {
	Written() bool
}

// HTTPCookieJar adapts a request/response pair to CookieJar.
type HTTPCookieJar struct {
	writer    http.ResponseWriter
	request   *http.Request
	overrides map[string]string
}

// NewHTTPCookieJar binds a jar to the current request and its response writer.
func NewHTTPCookieJar(writer http.ResponseWriter, request *http.Request) *HTTPCookieJar {
	return &HTTPCookieJar{
		writer:    writer,
		request:   request,
		overrides: make(map[string]string),
	}
}

// Get returns the named cookie value.
func (jar *HTTPCookieJar) Get(name string) (string, bool) {
	if value, ok := jar.overrides[name]; ok {
		return value, value != ""
	}
	if jar.request == nil {
		return "", false
	}
	cookie, cookieErr := jar.request.Cookie(name)
	if cookieErr != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return cookie.Value, true
}

// Set writes the cookie unless the response headers were already sent.
func (jar *HTTPCookieJar) Set(cookie *http.Cookie) error {
	if jar.writer == nil {
		return ErrHeadersWritten
	}
	if reporter, ok := jar.writer.(writtenReporter); ok && reporter.Written() {
		return ErrHeadersWritten
	}
	http.SetCookie(jar.writer, cookie)
	if cookie.MaxAge < 0 {
		jar.overrides[cookie.Name] = ""
	} else {
		jar.overrides[cookie.Name] = cookie.Value
	}
	return nil
}

func (configuration Config) sessionCookie(value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	}
}

func (configuration Config) refreshCookie(value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    value,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	}
}

// The flow cookie must survive the top-level redirect back from the identity provider.
func (configuration Config) flowStateCookie(value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     configuration.FlowStateCookieName,
		Value:    value,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (configuration Config) expiredCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	}
}
