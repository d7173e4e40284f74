package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/resilience"
)

func TestHTTPProvider_GetRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/rates", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":"0.92","JPY":"150","XXX":"bad"}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, srv.Client(), nil, zerolog.Nop())
	table, err := p.GetRates(context.Background(), time.Now())
	require.NoError(t, err)

	rate, ok := table.Rate(currency.USD, currency.EUR)
	require.True(t, ok)
	require.True(t, rate.Equal(decimal.RequireFromString("0.92")))

	// the unparsable quote was skipped, not fatal
	require.Len(t, table, 2)
}

func TestHTTPProvider_Retries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":"0.92"}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, srv.Client(), resilience.NewBreaker(10, 0.9, time.Second), zerolog.Nop())
	p.Client.BaseBackoff = time.Millisecond

	table, err := p.GetRates(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, table, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestCachedSource_HitSkipsUpstream(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, mr.Set(cacheKey, `{"USD/EUR":"0.92"}`))

	src := NewCachedSource(failingSource{}, rdb, time.Minute, zerolog.Nop())
	table, err := src.GetRates(context.Background(), time.Now())
	require.NoError(t, err)

	rate, ok := table.Rate(currency.USD, currency.EUR)
	require.True(t, ok)
	require.True(t, rate.Equal(decimal.RequireFromString("0.92")))
}

func TestCachedSource_MissFetchesAndStores(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	upstream := StaticSource{Table: fx.RateTable{
		{From: currency.USD, To: currency.EUR}: decimal.RequireFromString("0.92"),
	}}
	src := NewCachedSource(upstream, rdb, time.Minute, zerolog.Nop())

	table, err := src.GetRates(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, table, 1)
	require.True(t, mr.Exists(cacheKey))
}

type failingSource struct{}

func (failingSource) GetRates(ctx context.Context, asOf time.Time) (fx.RateTable, error) {
	return nil, context.DeadlineExceeded
}
