package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/resilience"
)

func TestHTTPClientRetriesUntilProviderRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"base":"USD","rates":{"EUR":"0.92"}}`)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(10, 0.9, time.Second).WithTarget("rates-api"),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 3,
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/latest?base=USD", nil)
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientReplaysBodyAcrossAttempts(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(10, 0.9, time.Second).WithTarget("rates-api"),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 2,
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"base":"USD"}`))
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, []string{`{"base":"USD"}`, `{"base":"USD"}`}, bodies)
}

func TestHTTPClientFallbackAnswersWhenOpen(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("rates-api")
	ctx := context.Background()
	breaker.Report(ctx, false)
	require.False(t, breaker.Allow(ctx))

	stale := `{"base":"USD","rates":{"EUR":"0.91"},"stale":true}`
	cl := resilience.HTTPClient{
		Client:  http.DefaultClient,
		Breaker: breaker,
		Fallback: func(_ context.Context, _ *http.Request, cause error) (*http.Response, error) {
			require.ErrorIs(t, cause, resilience.ErrOpenCircuit)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(stale)),
			}, nil
		},
	}

	req, err := http.NewRequest(http.MethodGet, "http://rates.invalid/latest", nil)
	require.NoError(t, err)

	resp, err := cl.Do(ctx, req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, stale, string(data))
}
