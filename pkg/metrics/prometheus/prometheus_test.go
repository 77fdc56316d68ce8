package prometheus

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/marmos91/objectloader/pkg/deferment"
	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/metrics"
)

func enable(t *testing.T) {
	t.Helper()
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)
}

func TestDisabledConstructorsReturnNil(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, NewCacheMetrics())
	assert.Nil(t, NewBatchingMetrics())
	assert.Nil(t, NewLoaderMetrics())
	RegisterManager(nil)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheMetrics(t *testing.T) {
	enable(t)
	m := NewCacheMetrics().(*cacheMetrics)

	m.ObserveHit()
	m.ObserveHit()
	m.ObserveMiss()
	m.RecordEviction(cache.EvictedForSpace)
	m.RecordSize(2048, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues("size")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.bytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entries))
}

func TestBatchingMetrics(t *testing.T) {
	enable(t)
	m := NewBatchingMetrics().(*batchingMetrics)

	m.ObserveBatch("writebehind", 10, 3*time.Millisecond, nil)
	m.ObserveBatch("writebehind", 4, time.Millisecond, errors.New("boom"))
	m.RecordInterval("writebehind", 250*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("writebehind", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("writebehind", "error")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.interval.WithLabelValues("writebehind")))
}

func TestLoaderMetrics(t *testing.T) {
	enable(t)
	m := NewLoaderMetrics().(*loaderMetrics)

	m.ObserveRequest(loader.SourceDownload)
	m.ObserveDelivered(loader.SourceDownload, 5)
	m.ObserveMissing(2)
	m.ObserveRefetch(true)
	m.ObserveRefetch(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("download")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.delivered.WithLabelValues("download")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.missing))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refetches.WithLabelValues("true")))
}

func TestHandlerExposesManagerGauges(t *testing.T) {
	enable(t)
	mgr := deferment.NewManager(cache.NewMemoryCache(cache.DefaultConfig(), nil))
	defer mgr.Dispose()
	RegisterManager(mgr)

	_, _, err := mgr.Defer("pending")
	require.NoError(t, err)

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "objectloader_deferments_outstanding 1")
	assert.Contains(t, string(body), "go_goroutines")
}
