package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"kvartal/market/internal/auth"
	"kvartal/market/internal/config"
	"kvartal/market/internal/models"
)

const testSecret = "test-secret"

func setupAuthRouter(optional bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if optional {
		router.Use(OptionalAuthMiddleware(testSecret))
	} else {
		router.Use(AuthMiddleware(testSecret))
	}
	router.GET("/whoami", func(c *gin.Context) {
		p := Principal(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": p.Authenticated, "id": p.ID.Hex()})
	})
	return router
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := primitive.NewObjectID()
	token, err := auth.GenerateJWT(userID, models.RoleUser, testSecret, time.Hour)
	require.NoError(t, err)

	router := setupAuthRouter(false)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.Hex())
}

func TestAuthMiddleware_RejectsMissingAndBadTokens(t *testing.T) {
	router := setupAuthRouter(false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token signed with a different key.
	otherToken, err := auth.GenerateJWT(primitive.NewObjectID(), models.RoleUser, "other-secret", time.Hour)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+otherToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuthMiddleware_AnonymousFallback(t *testing.T) {
	router := setupAuthRouter(true)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
}

func TestRateLimiter_SoftLimitAppliesToAnonymousOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		RateLimitSoftBucketSize: 2,
		RateLimitSoftRefillRate: 0,
		RateLimitHardBucketSize: 100,
		RateLimitHardRefillRate: 0,
	}
	rm := NewRateLimiterMiddleware(cfg)

	router := gin.New()
	router.Use(OptionalAuthMiddleware(testSecret), rm.Limit())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Anonymous: the soft bucket empties after 2 requests.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Authenticated clients only hit the hard bucket.
	token, err := auth.GenerateJWT(primitive.NewObjectID(), models.RoleUser, testSecret, time.Hour)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
