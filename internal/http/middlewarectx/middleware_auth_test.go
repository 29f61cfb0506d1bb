package middlewarectx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookvault/hookvault/internal/http/response"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSharedSecretMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		secret     string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid token passes",
			secret:     "s3cret",
			authHeader: "Bearer s3cret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong token rejected",
			secret:     "s3cret",
			authHeader: "Bearer nope",
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.CodeUnauthorized,
		},
		{
			name:       "missing header rejected",
			secret:     "s3cret",
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.CodeUnauthorized,
		},
		{
			name:       "non-bearer scheme rejected",
			secret:     "s3cret",
			authHeader: "Basic s3cret",
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.CodeUnauthorized,
		},
		{
			name:       "empty configured secret fails closed",
			secret:     "",
			authHeader: "Bearer ",
			wantStatus: http.StatusInternalServerError,
			wantCode:   response.CodeServerMisconfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := SharedSecretMiddleware(tt.secret, newNoopLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/quota/x", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			mw(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var resp response.Response
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantCode, resp.Error)
			}
		})
	}
}
