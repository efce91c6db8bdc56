package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/JonMunkholm/docmapper/internal/backend/xmldoc"
	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/core"
	"github.com/JonMunkholm/docmapper/internal/metrics"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/store/memstore"
)

const testCatalog = `
entities:
  - name: Place
    attributes: [name]
  - name: News
    attributes:
      - title
      - {name: place, type: ref, target: Place}
    relations:
      - {name: tags, target: Place}
`

const newsMapping = `
name: news
description: News items
backend: xml
schema:
  News:
    query: channel.item
    fields:
      title: {query: title, hook: capfirst}
      place: {query: place, model: Place, field: name}
    rels:
      tags: {query: category, model: Place, field: name}
`

const feed = `<rss><channel>
<item><title>bridge reopens</title><place>Moscow</place><category>Berlin</category></item>
<item><title>two</title><title>titles</title><place>Oslo</place></item>
</channel></rss>`

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{RequestTimeout: 10 * time.Second},
		Load:    config.LoadConfig{MaxSourceSize: 1 << 20, MaxConcurrent: 2, MaxWaitTime: time.Second, Timeout: time.Minute, ResultTTL: time.Minute},
		Rate:    config.RateLimitConfig{Enabled: false},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	core.Clear()
	t.Cleanup(core.Clear)

	c, err := model.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	m := metrics.New()
	svc := core.NewService(c, memstore.New(), cfg.Load, core.WithMetrics(m))

	mapping, err := core.ParseMapping([]byte(newsMapping))
	require.NoError(t, err)
	require.NoError(t, svc.RegisterMappings([]*core.Mapping{mapping}))

	s := NewServer(svc, cfg, m)
	t.Cleanup(func() { s.Shutdown(t.Context()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["mappings"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListMappings(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/api/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]MappingSummary](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "news", got[0].Name)
	assert.Equal(t, "xml", got[0].Backend)
	assert.Equal(t, []string{"News"}, got[0].Entities)
}

func TestGetMapping(t *testing.T) {
	s := newTestServer(t, testConfig())
	rec := do(t, s, http.MethodGet, "/api/mappings/news", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[MappingDetail](t, rec)
	require.Len(t, got.Schema, 1)
	news := got.Schema[0]
	assert.Equal(t, "channel.item", news.Query)
	require.Len(t, news.Fields, 2)
	assert.Equal(t, FieldSchema{Name: "title", Query: "title", Hook: "capfirst"}, news.Fields[0])
	assert.Equal(t, FieldSchema{Name: "place", Query: "place", Model: "Place", Field: "name"}, news.Fields[1])
	require.Len(t, news.Relations, 1)
	assert.Equal(t, "tags", news.Relations[0].Name)

	rec = do(t, s, http.MethodGet, "/api/mappings/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MAP001", decode[ErrorResponse](t, rec).Code)
}

func TestListEntitiesAndHooks(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodGet, "/api/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entities := decode[[]EntityTypeInfo](t, rec)
	require.Len(t, entities, 2)
	assert.Equal(t, "Place", entities[0].Name)

	rec = do(t, s, http.MethodGet, "/api/hooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hooks := decode[map[string][]string](t, rec)
	assert.Contains(t, hooks["hooks"], "capfirst")

	rec = do(t, s, http.MethodGet, "/api/limiter", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[core.LoadLimiterStatus](t, rec).MaxConcurrent)
}

func TestLoad_Wait(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodPost, "/api/loads/news?wait=true", feed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	record := decode[core.LoadRecord](t, rec)
	assert.Equal(t, core.LoadPartial, record.Status)
	require.NotNil(t, record.Stats)
	assert.Equal(t, 2, record.Stats.Read)
	assert.Equal(t, 1, record.Stats.Loaded)
	assert.Equal(t, 1, record.Stats.Errors)
	require.Len(t, record.Stats.Failures, 1)
	assert.Equal(t, "title", record.Stats.Failures[0].Field)
	assert.Equal(t, "/api/loads/"+record.ID, rec.Header().Get("Location"))

	rec = do(t, s, http.MethodGet, "/api/loads/"+record.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, record.ID, decode[core.LoadRecord](t, rec).ID)

	rec = do(t, s, http.MethodGet, "/api/loads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.LoadRecord](t, rec), 1)
}

func TestLoad_Async(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodPost, "/api/loads/news", feed)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[map[string]string](t, rec)["load_id"]
	require.NotEmpty(t, id)

	rec = do(t, s, http.MethodGet, "/api/loads/"+id+"/wait", "")
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[core.LoadRecord](t, rec)
	assert.True(t, record.Status.Done())
	assert.Equal(t, "192.0.2.1", record.Client.IP)
	assert.NotEmpty(t, record.Client.RequestID)
}

func TestLoad_RecordsRequestID(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/loads/news?wait=true", strings.NewReader(feed))
	req.Header.Set("X-Request-Id", "trace-42")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-42", decode[core.LoadRecord](t, rec).Client.RequestID)
}

func TestLoad_Errors(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"unknown mapping", "/api/loads/missing", feed, http.StatusNotFound, "MAP001"},
		{"empty body without source", "/api/loads/news", "", http.StatusBadRequest, "SRC003"},
		{"unknown load", "/api/loads/nope", "", http.StatusNotFound, "LOAD001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.name == "unknown load" {
				method = http.MethodGet
			}
			rec := do(t, s, method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestLoad_MalformedDocument(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := do(t, s, http.MethodPost, "/api/loads/news?wait=true", "<rss><channel></rss>")
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[core.LoadRecord](t, rec)
	assert.Equal(t, core.LoadFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "SRC002", record.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	do(t, s, http.MethodPost, "/api/loads/news?wait=true", feed)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docmapper_load_total{mapping="news",status="partial"} 1`)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/mappings", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/mappings", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, LoadLimit: 10}
	s := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"), "one token refills every 30s")
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)
	defer rl.stop()

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.allow("a"))
}

func TestRateLimiter_BurstThenSteadyRate(t *testing.T) {
	rl := newRateLimiter(3, 300*time.Millisecond)
	defer rl.stop()

	for i := range 3 {
		assert.True(t, rl.allow("a"), "request %d within burst", i)
	}
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"), "other visitors keep their burst")
	assert.Equal(t, "1", rl.retryAfter(), "sub-second intervals round up")
}

func TestRateLimiter_PerVisitorBucket(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()

	assert.Same(t, rl.limiter("a"), rl.limiter("a"))
	assert.NotSame(t, rl.limiter("a"), rl.limiter("b"))
	assert.Equal(t, "30", rl.retryAfter())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrTooManyLoads))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(core.ErrSourceTooLarge))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
