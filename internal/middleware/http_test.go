package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHttpMiddleware_ObservesRoutePattern(t *testing.T) {
	r := gin.New()
	r.Use(HttpMiddleware())
	r.GET("/v1/feature/:key", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.CollectAndCount(httpDuration)
	for _, key := range []string{"a", "b", "c"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/v1/feature/"+key, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	// every key lands on one series labelled by the route pattern
	assert.Equal(t, before+1, testutil.CollectAndCount(httpDuration))
}
