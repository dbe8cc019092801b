package apiresult

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestResultStatusMapping(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		result Result
		status int
		body   string
	}{
		{name: "ok", result: Ok(gin.H{"success": true}), status: http.StatusOK, body: `{"success":true}`},
		{name: "bad request", result: Err(KindBadRequest, "Invalid vote_type"), status: http.StatusBadRequest, body: `{"error":"Invalid vote_type"}`},
		{name: "unauthorized", result: Err(KindUnauthorized, "Unauthorized"), status: http.StatusUnauthorized, body: `{"error":"Unauthorized"}`},
		{name: "forbidden", result: Err(KindForbidden, "Invalid CSRF token"), status: http.StatusForbidden, body: `{"error":"Invalid CSRF token"}`},
		{name: "internal", result: Err(KindInternal, "Failed to vote"), status: http.StatusInternalServerError, body: `{"error":"Failed to vote"}`},
		{name: "unknown kind", result: Err(Kind("mystery"), "boom"), status: http.StatusInternalServerError, body: `{"error":"boom"}`},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if status := testCase.result.Status(); status != testCase.status {
				t.Fatalf("expected status %d, got %d", testCase.status, status)
			}
			encoded, err := json.Marshal(testCase.result.Body())
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			if string(encoded) != testCase.body {
				t.Fatalf("expected body %s, got %s", testCase.body, encoded)
			}
		})
	}
}

func TestWriteAbortsOnFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reachedNext := false
	router := gin.New()
	router.GET("/failure", func(contextGin *gin.Context) {
		Write(contextGin, Err(KindUnauthorized, "Unauthorized"))
	}, func(contextGin *gin.Context) {
		reachedNext = true
	})
	router.GET("/success", func(contextGin *gin.Context) {
		Write(contextGin, Ok(gin.H{"csrfToken": "token"}))
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/failure", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if reachedNext {
		t.Fatalf("expected failure to abort the chain")
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/success", nil))
	if recorder.Code != http.StatusOK || recorder.Body.String() != `{"csrfToken":"token"}` {
		t.Fatalf("unexpected success response %d %s", recorder.Code, recorder.Body.String())
	}
}
