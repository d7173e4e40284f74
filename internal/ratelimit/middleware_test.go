package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func previewHandler(limiter Limiter, max int) http.Handler {
	h := Handler{
		Limiter: limiter,
		Config: Config{
			Key:    func(r *http.Request) string { return "store-1:" + r.RemoteAddr },
			Window: time.Second,
			Max:    max,
		},
	}
	return h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareThrottlesRepeatPreviews(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guarded := previewHandler(Limiter{Client: client, Prefix: "promo:rl:"}, 1)

	req := httptest.NewRequest(http.MethodPost, "/pricing/preview", nil)
	first := httptest.NewRecorder()
	guarded.ServeHTTP(first, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	guarded.ServeHTTP(second, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, second.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMITED", body.Error.Code)
}

func TestMiddlewareFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	h := Handler{
		Limiter: Limiter{Client: client, Prefix: "promo:rl:"},
		Config: Config{
			Key:    func(*http.Request) string { return "store-1:198.51.100.4" },
			Window: time.Second,
			Max:    1,
		},
	}
	var reported error
	h.OnError = func(err error) { reported = err }

	guarded := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pricing/preview", nil))
	require.Equal(t, http.StatusOK, rec.Code, "broken limiter must not block previews")
	require.Error(t, reported)
}
