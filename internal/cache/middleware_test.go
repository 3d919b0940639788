package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestCacheControl_SetsPublicMaxAgeOnGET(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CacheControl(time.Hour))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
}

func TestCacheControl_SetsNoStoreOnWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CacheControl(time.Hour))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))

	require.Equal(t, "no-store, no-cache, must-revalidate", w.Header().Get("Cache-Control"))
}

func TestCacheMiddleware_PassesThroughWhenDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)

	calls := 0
	router := gin.New()
	router.GET("/x", CacheMiddleware(c, time.Minute), func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.Equal(t, 2, calls)
}

func TestInvalidateCacheMiddleware_PassesThroughWhenDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/x", InvalidateCacheMiddleware(c, "systems:*"), func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
