package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequirePermission(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	run := func(perms interface{}, required string) (int, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if perms != nil {
			c.Set("permissions", perms)
		}
		RequirePermission(required)(c)
		return w.Code, !c.IsAborted()
	}

	tests := []struct {
		name     string
		perms    interface{}
		required string
		wantNext bool
		wantCode int
	}{
		{"missing permissions", nil, PermEventsWrite, false, http.StatusForbidden},
		{"wrong type", "events:write", PermEventsWrite, false, http.StatusForbidden},
		{"exact permission", []string{PermEventsWrite}, PermEventsWrite, true, http.StatusOK},
		{"admin implies all", []string{PermPipelineAdmin}, PermEventsWrite, true, http.StatusOK},
		{"read cannot administer", []string{PermPipelineRead}, PermPipelineAdmin, false, http.StatusForbidden},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, next := run(tc.perms, tc.required)
			if next != tc.wantNext || code != tc.wantCode {
				t.Fatalf("next = %v code = %d, want %v %d", next, code, tc.wantNext, tc.wantCode)
			}
		})
	}
}
