package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openfms/framekit/internal/message"
	"openfms/framekit/internal/protocol"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "operator",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.JWTSecret = "s3cret"
	srv, _ := newTestServer(t, cfg)
	h := srv.Handler()

	valid := signToken(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"wrong method", "Bearer " + signToken(t, "s3cret", jwt.SigningMethodHS512, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w = doJSON(t, h, http.MethodGet, "/api/v1/sessions", "", "Authorization", tt.header)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	// health stays public
	w := doJSON(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_SetsClaims(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.GET("/", AuthMiddleware("k"), func(c *gin.Context) {
		claims, ok := c.Get("claims")
		require.True(t, ok)
		c.String(http.StatusOK, "%v", claims.(jwt.MapClaims)["sub"])
	})

	w := doJSON(t, r, http.MethodGet, "/", "", "Authorization", "Bearer "+signToken(t, "k", jwt.SigningMethodHS256, time.Now().Add(time.Minute)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
	}{
		{&message.BindingError{ElementID: "x", Err: message.ErrMissingParameter}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", message.ErrInvalidValue), http.StatusBadRequest},
		{protocol.ErrInvalidFraming, http.StatusBadRequest},
		{ErrSessionNotFound, http.StatusNotFound},
		{protocol.ErrUnknownStructure, http.StatusNotFound},
		{fmt.Errorf("%w: broken pipe", ErrWriteFailed), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, errorStatus(tt.err), tt.err.Error())
	}
}
