package apiresult

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies a failed result.
type Kind string

// Failure kinds and the HTTP status each maps to.
const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindBadRequest:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindInternal:     http.StatusInternalServerError,
}

// Result is either a successful payload or a classified failure with a client-facing message.
type Result struct {
	payload any
	kind    Kind
	message string
}

// Ok wraps a successful payload.
func Ok(payload any) Result {
	return Result{payload: payload}
}

// Err builds a failure. The message is sent to the client verbatim.
func Err(kind Kind, message string) Result {
	return Result{kind: kind, message: message}
}

// IsOk reports whether the result carries a payload.
func (result Result) IsOk() bool {
	return result.kind == ""
}

// Kind returns the failure kind, or the empty kind for successes.
func (result Result) Kind() Kind {
	return result.kind
}

// Status maps the result to its HTTP status code.
func (result Result) Status() int {
	if result.IsOk() {
		return http.StatusOK
	}
	if status, ok := kindStatus[result.kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Body returns the JSON body: the payload on success, {"error": message} otherwise.
func (result Result) Body() any {
	if result.IsOk() {
		return result.payload
	}
	return gin.H{"error": result.message}
}

// Write renders the result. Failures abort the handler chain.
func Write(contextGin *gin.Context, result Result) {
	if result.IsOk() {
		contextGin.JSON(result.Status(), result.Body())
		return
	}
	contextGin.AbortWithStatusJSON(result.Status(), result.Body())
}
