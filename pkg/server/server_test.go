package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/store"
	"github.com/marmos91/objectloader/pkg/store/memory"
	"github.com/marmos91/objectloader/pkg/transport"
	"github.com/marmos91/objectloader/pkg/transport/remote"
)

const testSecret = "test-secret-key-for-testing-only-32chars"

func seededStore(t *testing.T, ids ...string) store.Store {
	t.Helper()
	st := memory.New()
	items := make([]base.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, base.NewItem(base.Base{"id": id, "name": "obj-" + id}))
	}
	require.NoError(t, st.PutMany(context.Background(), items))
	return st
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetObject(t *testing.T) {
	h := NewRouter(Config{}, seededStore(t, "A"))

	rr := do(t, h, http.MethodGet, "/objects/A", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"A","name":"obj-A"}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/objects/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ContentTypeProblemJSON, rr.Header().Get("Content-Type"))
}

func TestBatchStreamsLines(t *testing.T) {
	h := NewRouter(Config{}, seededStore(t, "A", "B"))

	rr := do(t, h, http.MethodPost, "/objects/batch", `{"ids":["A","missing","B"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ContentTypeNDJSON, rr.Header().Get("Content-Type"))

	var ids []string
	require.NoError(t, transport.ReadLines(rr.Body, func(it base.Item) error {
		ids = append(ids, it.BaseID)
		return nil
	}, nil))
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestBatchRejects(t *testing.T) {
	h := NewRouter(Config{MaxBatchIDs: 2}, seededStore(t))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/objects/batch", `{"ids":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/objects/batch", `not json`).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		do(t, h, http.MethodPost, "/objects/batch", `{"ids":["a","b","c"]}`).Code)
}

func TestUpload(t *testing.T) {
	st := memory.New()
	h := NewRouter(Config{}, st)

	var body bytes.Buffer
	for i := range uploadChunk + 3 {
		it := base.NewItem(base.Base{"id": "obj" + string(rune('a'+i%26)) + strings.Repeat("x", i/26)})
		require.NoError(t, transport.WriteItem(&body, it))
	}
	body.WriteString("garbage\n")

	rr := do(t, h, http.MethodPost, "/objects", body.String())
	require.Equal(t, http.StatusOK, rr.Code)

	var res UploadResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, uploadChunk+3, res.Stored)
	assert.Equal(t, 1, res.Skipped)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, uploadChunk+3, n)
}

func TestUploadTooLarge(t *testing.T) {
	h := NewRouter(Config{MaxBodySize: 16}, memory.New())

	rr := do(t, h, http.MethodPost, "/objects", "A\t{\"id\":\"A\",\"pad\":\"0123456789\"}\n")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

type brokenStore struct{ store.Store }

func (brokenStore) Count(context.Context) (int64, error) { return 0, errors.New("disk on fire") }
func (brokenStore) Type() string                         { return "broken" }

func TestHealth(t *testing.T) {
	rr := do(t, NewRouter(Config{}, seededStore(t, "A", "B")), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, map[string]any{"store": "memory", "objects": 2.0}, resp.Data)

	rr = do(t, NewRouter(Config{}, brokenStore{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "disk on fire")
}

func TestMetricsDisabled(t *testing.T) {
	rr := do(t, NewRouter(Config{}, memory.New()), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJWTAuth(t *testing.T) {
	h := NewRouter(Config{JWTSecret: testSecret}, seededStore(t, "A"))

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/objects/A", "").Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/objects/A", "", "Authorization", "Bearer nonsense")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := IssueToken(strings.Repeat("z", 32), "reader", time.Minute)
		require.NoError(t, err)
		rr := do(t, h, http.MethodGet, "/objects/A", "", "Authorization", "Bearer "+tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		tok, err := IssueToken(testSecret, "reader", -time.Minute)
		require.NoError(t, err)
		rr := do(t, h, http.MethodGet, "/objects/A", "", "Authorization", "Bearer "+tok)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "expired")
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := IssueToken(testSecret, "reader", time.Minute)
		require.NoError(t, err)
		rr := do(t, h, http.MethodGet, "/objects/A", "", "Authorization", "bearer "+tok)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	})
}

func TestParseToken(t *testing.T) {
	tok, err := IssueToken(testSecret, "reader", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "reader", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)

	_, err = IssueToken("short", "reader", time.Minute)
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer", "", false},
		{"Basic abc", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := extractBearerToken(req)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestRemoteDownloaderAgainstServer(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Config{JWTSecret: testSecret}, seededStore(t, "A", "B")))
	defer srv.Close()

	tok, err := IssueToken(testSecret, "loader", time.Minute)
	require.NoError(t, err)

	cfg := remote.DefaultConfig()
	cfg.URL = srv.URL
	cfg.Token = tok
	cfg.MaxRetries = 0
	d, err := remote.New(cfg)
	require.NoError(t, err)

	items, err := d.FetchBatch(context.Background(), []string{"A", "zzz", "B"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	it, err := d.FetchSingle(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, "obj-B", it.Base["name"])

	_, err = d.FetchSingle(context.Background(), "zzz")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestLifecycle(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{JWTSecret: "short"}, memory.New())
	require.Error(t, err)

	s, err := New(Config{Address: "127.0.0.1:0"}, seededStore(t, "A"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, s.Stop(context.Background()))
}
