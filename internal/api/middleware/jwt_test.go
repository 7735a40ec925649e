package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTConfigValidateToken_Success(t *testing.T) {
	cfg := JWTConfig{
		SigningKey: []byte("test-signing-key-1234567890123456"),
		Issuer:     "stockpulse",
		ExpiresIn:  time.Hour,
	}

	token, _, err := GenerateToken(cfg, "erp-producer", []string{PermEventsWrite})
	require.NoError(t, err)

	claims, err := cfg.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "erp-producer", claims.Subject)
	assert.Equal(t, []string{PermEventsWrite}, claims.Permissions)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.NotBefore)
}

func TestJWTConfigValidateToken_RejectsInvalidIssuer(t *testing.T) {
	issuerCfg := JWTConfig{
		SigningKey: []byte("issuer-key-123456789012345678901234"),
		Issuer:     "stockpulse",
		ExpiresIn:  time.Hour,
	}
	token, _, err := GenerateToken(issuerCfg, "ops", nil)
	require.NoError(t, err)

	_, err = JWTConfig{SigningKey: issuerCfg.SigningKey, Issuer: "other-issuer"}.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestJWTConfigValidateToken_SupportsVerificationKeyRotation(t *testing.T) {
	oldKey := []byte("old-key-123456789012345678901234567890")
	newKey := []byte("new-key-123456789012345678901234567890")

	token, _, err := GenerateToken(JWTConfig{SigningKey: oldKey, Issuer: "stockpulse", ExpiresIn: time.Hour}, "ops", nil)
	require.NoError(t, err)

	claims, err := JWTConfig{
		SigningKey:       newKey,
		VerificationKeys: [][]byte{oldKey},
		Issuer:           "stockpulse",
	}.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)

	_, err = JWTConfig{SigningKey: newKey, Issuer: "stockpulse"}.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := JWTConfig{SigningKey: []byte("auth-key-1234567890123456789012345"), Issuer: "stockpulse", ExpiresIn: time.Hour}
	valid, _, err := GenerateToken(cfg, "ops", []string{PermPipelineRead})
	require.NoError(t, err)
	expired, _, err := GenerateToken(JWTConfig{SigningKey: cfg.SigningKey, Issuer: cfg.Issuer, ExpiresIn: -time.Minute}, "ops", nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(JWTAuth(cfg))
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetSubject(c.Request.Context()))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}
