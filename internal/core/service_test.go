package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmapper/internal/backend"
	_ "github.com/JonMunkholm/docmapper/internal/backend/jsondoc"
	_ "github.com/JonMunkholm/docmapper/internal/backend/xmldoc"
	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/metrics"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
	"github.com/JonMunkholm/docmapper/internal/store/memstore"
)

const testCatalog = `
entities:
  - name: Place
    attributes: [name]
`

const twoPlaces = `<rss><channel>
<item><title>Moscow</title></item>
<item><title>Berlin</title></item>
</channel></rss>`

type serviceFixture struct {
	svc     *Service
	store   *memstore.Store
	catalog *model.Catalog
	metrics *metrics.Metrics
}

func testLoadConfig() config.LoadConfig {
	return config.LoadConfig{
		MaxSourceSize: 1 << 20,
		MaxConcurrent: 2,
		MaxWaitTime:   time.Second,
		Timeout:       time.Minute,
		ResultTTL:     time.Minute,
		MaxFailures:   10,
	}
}

func newServiceFixture(t *testing.T, cfg config.LoadConfig, mappings ...string) *serviceFixture {
	t.Helper()
	Clear()
	t.Cleanup(Clear)

	c, err := model.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	st := memstore.New()
	m := metrics.New()
	svc := NewService(c, st, cfg, WithMetrics(m))

	var defs []*Mapping
	for _, doc := range mappings {
		def, err := ParseMapping([]byte(doc))
		require.NoError(t, err)
		defs = append(defs, def)
	}
	require.NoError(t, svc.RegisterMappings(defs))

	return &serviceFixture{svc: svc, store: st, catalog: c, metrics: m}
}

func (f *serviceFixture) places(t *testing.T) []string {
	t.Helper()
	typ, err := f.catalog.Lookup("Place")
	require.NoError(t, err)
	var names []string
	for _, e := range f.store.All(typ) {
		names = append(names, e.Get("name").(string))
	}
	return names
}

func TestService_RegisterMappings(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)

	m, err := f.svc.GetMapping("places")
	require.NoError(t, err)
	require.NotNil(t, m.Schema)
	assert.Equal(t, []string{"Place"}, m.Entities())
	assert.Len(t, f.svc.ListMappings(), 1)

	_, err = f.svc.GetMapping("missing")
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestService_RegisterMappingsRejectsInvalidSchema(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)

	bad, err := ParseMapping([]byte("name: bad\nbackend: xml\nschema: {Nowhere: {query: a, fields: {name: b}}}"))
	require.NoError(t, err)
	unknown, err := ParseMapping([]byte("name: csv\nbackend: csv\nschema: {Place: {query: a, fields: {name: b}}}"))
	require.NoError(t, err)

	err = f.svc.RegisterMappings([]*Mapping{bad, unknown})
	assert.ErrorIs(t, err, schema.ErrSchema)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = f.svc.GetMapping("places")
	assert.NoError(t, err, "previous mappings stay registered")
}

func TestService_RunLoad(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)

	record, err := f.svc.RunLoad(context.Background(), "places", strings.NewReader(twoPlaces))
	require.NoError(t, err)

	assert.Equal(t, LoadClean, record.Status)
	assert.Equal(t, "places", record.Mapping)
	require.NotNil(t, record.Stats)
	assert.Equal(t, record.ID, record.Stats.LoadID)
	assert.Equal(t, 2, record.Stats.Read)
	assert.Equal(t, 2, record.Stats.Loaded)
	assert.NotNil(t, record.Finished)
	assert.Nil(t, record.Error)
	assert.Equal(t, []string{"Moscow", "Berlin"}, f.places(t))

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "docmapper_load_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_RunLoadPartial(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)
	doc := `<rss><channel>
<item><title>A</title><title>B</title></item>
<item><title>Oslo</title></item>
</channel></rss>`

	record, err := f.svc.RunLoad(context.Background(), "places", strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, LoadPartial, record.Status)
	assert.Equal(t, 1, record.Stats.Errors)
	assert.Equal(t, []string{"Oslo"}, f.places(t))
}

func TestService_RunLoadBackendError(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)

	record, err := f.svc.RunLoad(context.Background(), "places", strings.NewReader("<rss><channel></rss>"))
	assert.ErrorIs(t, err, backend.ErrBackend)
	assert.Equal(t, LoadFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "SRC002", record.Error.Code)
	assert.ErrorIs(t, record.Err(), backend.ErrBackend)
}

func TestService_DefaultSource(t *testing.T) {
	path := writeFile(t, t.TempDir(), "feed.xml", twoPlaces)
	f := newServiceFixture(t, testLoadConfig(), placesMapping+"source: "+path+"\n")

	record, err := f.svc.RunLoad(context.Background(), "places", strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, path, record.Source)
	assert.Equal(t, 2, record.Stats.Loaded)
}

func TestService_SourceErrors(t *testing.T) {
	cfg := testLoadConfig()
	cfg.MaxSourceSize = 16
	f := newServiceFixture(t, cfg, placesMapping)
	ctx := context.Background()

	_, err := f.svc.StartLoad(ctx, "places", nil)
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = f.svc.StartLoad(ctx, "places", strings.NewReader(twoPlaces))
	assert.ErrorIs(t, err, ErrSourceTooLarge)
	assert.Equal(t, "SRC001", MapError(err).Code)

	_, err = f.svc.StartLoad(ctx, "nope", strings.NewReader("<a/>"))
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestService_StartLoadAndWait(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)
	ctx := ContextWithClient(context.Background(), Client{IP: "10.0.0.1", UserAgent: "test"})

	id, err := f.svc.StartLoad(ctx, "places", strings.NewReader(twoPlaces))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := f.svc.Wait(waitCtx, id)
	require.NoError(t, err)
	assert.True(t, record.Status.Done())
	assert.Equal(t, Client{IP: "10.0.0.1", UserAgent: "test"}, record.Client)

	got, err := f.svc.Result(id)
	require.NoError(t, err)
	assert.Equal(t, record.Status, got.Status)

	loads := f.svc.ListLoads()
	require.Len(t, loads, 1)
	assert.Equal(t, id, loads[0].ID)

	_, err = f.svc.Result("unknown")
	assert.ErrorIs(t, err, ErrLoadNotFound)
	assert.ErrorIs(t, f.svc.CancelLoad("unknown"), ErrLoadNotFound)
}

func TestService_TooManyLoads(t *testing.T) {
	cfg := testLoadConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxWaitTime = 20 * time.Millisecond
	f := newServiceFixture(t, cfg, placesMapping)

	require.True(t, f.svc.limiter.TryAcquire())
	defer f.svc.limiter.Release()

	_, err := f.svc.StartLoad(context.Background(), "places", strings.NewReader(twoPlaces))
	assert.ErrorIs(t, err, ErrTooManyLoads)
	assert.Equal(t, "LOAD002", MapError(err).Code)
	assert.Equal(t, 1, f.svc.LimiterStatus().Active)
	n, err := testutil.GatherAndCount(f.metrics.Registry(), "docmapper_load_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_ResultExpires(t *testing.T) {
	cfg := testLoadConfig()
	cfg.ResultTTL = 10 * time.Millisecond
	f := newServiceFixture(t, cfg, placesMapping)

	record, err := f.svc.RunLoad(context.Background(), "places", strings.NewReader(twoPlaces))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.svc.Result(record.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestService_WaitForLoads(t *testing.T) {
	f := newServiceFixture(t, testLoadConfig(), placesMapping)

	_, err := f.svc.StartLoad(context.Background(), "places", strings.NewReader(twoPlaces))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.WaitForLoads(ctx))
	assert.Equal(t, 0, f.svc.LimiterStatus().Active)
}
