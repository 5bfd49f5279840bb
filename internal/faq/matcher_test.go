package faq

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/assistd/internal/similarity"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(components ...float32) []float32 {
	v := make([]float32, gatewaytest.Dimension)
	copy(v, components)
	return v
}

func threshold(v float64) *float64 { return &v }

var hoursEntries = []Entry{
	{Questions: []string{"What are your hours?", "When are you open?"}, Answer: "9-5 Mon-Fri"},
	{Questions: []string{"Where are you located?"}, Answer: "12 Main Street"},
}

// writeSource writes entries and backdates the file so artifacts written
// afterwards are strictly newer.
func writeSource(t *testing.T, files *Files, tenantID string, entries []Entry) {
	t.Helper()
	require.NoError(t, files.WriteSource(tenantID, entries))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(files.SourcePath(tenantID), past, past))
}

func touchSource(t *testing.T, files *Files, tenantID string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(files.SourcePath(tenantID), at, at))
}

func newMatcher(t *testing.T, files *Files, emb gateway.Embedder, opts Options) *Matcher {
	t.Helper()
	m, err := NewMatcher(files, emb, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMatcher_NoSourceIsSoftMiss(t *testing.T) {
	files := NewFiles(t.TempDir())
	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{})

	loaded, err := m.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, loaded)

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "anything")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Zero(t, score)
	assert.Zero(t, emb.Calls())
}

func TestMatcher_EmptySource(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", nil)
	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{})

	loaded, err := m.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, loaded)

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "what are your hours")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Zero(t, score)
	assert.Zero(t, emb.Calls(), "empty set must not embed the query")
}

func TestMatcher_MatchReturnsAnswerVerbatim(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	emb := gatewaytest.NewEmbedder()
	emb.Set("What are your hours?", vec(1, 0, 0))
	emb.Set("Where are you located?", vec(0, 1, 0))
	emb.Set("what time do you open", vec(0.95, 0.05, 0))

	m := newMatcher(t, files, emb, Options{Threshold: threshold(0.9)})

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "what time do you open")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "9-5 Mon-Fri", entry.Answer)
	assert.Greater(t, score, 0.9)
}

func TestMatcher_MissStillReportsScore(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	emb := gatewaytest.NewEmbedder()
	emb.Set("What are your hours?", vec(1, 0))
	emb.Set("Where are you located?", vec(0, 1))
	emb.Set("tell me a joke", vec(1, 1))

	m := newMatcher(t, files, emb, Options{Threshold: threshold(0.9)})

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "tell me a joke")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.InDelta(t, 0.7071, score, 1e-3)
}

func TestMatcher_ThresholdIsInclusive(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries[:1])

	anchor := vec(3, 4)
	query := vec(4, 3)
	emb := gatewaytest.NewEmbedder()
	emb.Set("What are your hours?", anchor)
	emb.Set("opening times", query)

	m := newMatcher(t, files, emb, Options{Threshold: threshold(similarity.Cosine(query, anchor))})

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "opening times")
	require.NoError(t, err)
	require.NotNil(t, entry, "score equal to threshold must match")
	assert.Equal(t, m.Threshold(), score)
}

func TestMatcher_ZeroThreshold(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	emb := gatewaytest.NewEmbedder()
	emb.Set("What are your hours?", vec(1, 0))
	emb.Set("Where are you located?", vec(0, 1))
	emb.Set("orthogonal", vec(0, 0, 1))

	m := newMatcher(t, files, emb, Options{Threshold: threshold(0)})
	assert.Zero(t, m.Threshold())

	entry, score, err := m.FindBestMatch(context.Background(), "acme", "orthogonal")
	require.NoError(t, err)
	require.NotNil(t, entry, "zero threshold accepts a zero score")
	assert.Zero(t, score)

	def := newMatcher(t, files, emb, Options{})
	assert.Equal(t, DefaultThreshold, def.Threshold())
}

func TestMatcher_FirstEntryWinsTies(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", []Entry{
		{Questions: []string{"first"}, Answer: "one"},
		{Questions: []string{"second"}, Answer: "two"},
	})

	emb := gatewaytest.NewEmbedder()
	emb.Set("first", vec(1, 0))
	emb.Set("second", vec(1, 0))
	emb.Set("q", vec(1, 0))

	m := newMatcher(t, files, emb, Options{Threshold: threshold(0.5)})

	entry, _, err := m.FindBestMatch(context.Background(), "acme", "q")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "one", entry.Answer)
}

func TestMatcher_ReusesPersistedEmbeddings(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	ctx := context.Background()

	first := gatewaytest.NewEmbedder()
	m1 := newMatcher(t, files, first, Options{})
	loaded, err := m1.Load(ctx, "acme")
	require.NoError(t, err)
	require.True(t, loaded)
	assert.Equal(t, len(hoursEntries), first.Calls())
	assert.FileExists(t, files.ArtifactPath("acme"))

	second := gatewaytest.NewEmbedder()
	m2 := newMatcher(t, files, second, Options{})
	loaded, err = m2.Load(ctx, "acme")
	require.NoError(t, err)
	require.True(t, loaded)
	assert.Zero(t, second.Calls(), "valid artifact must be reused")
}

func TestMatcher_ArtifactCountMismatchRecomputes(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	require.NoError(t, files.writeArtifact("acme", &artifact{
		Anchors:    []string{"What are your hours?"},
		Embeddings: [][]float32{vec(1)},
	}))

	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{})
	_, err := m.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, len(hoursEntries), emb.Calls())
}

func TestMatcher_ArtifactOlderThanSourceRecomputes(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	m1 := newMatcher(t, files, gatewaytest.NewEmbedder(), Options{})
	_, err := m1.Load(context.Background(), "acme")
	require.NoError(t, err)

	touchSource(t, files, "acme", time.Now().Add(time.Hour))

	emb := gatewaytest.NewEmbedder()
	m2 := newMatcher(t, files, emb, Options{})
	_, err = m2.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, len(hoursEntries), emb.Calls())
}

func TestMatcher_CheckEachLookupRefreshesOnce(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	ctx := context.Background()

	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{Staleness: CheckEachLookup})

	_, _, err := m.FindBestMatch(ctx, "acme", "hours")
	require.NoError(t, err)
	require.Equal(t, len(hoursEntries)+1, emb.Calls())

	touchSource(t, files, "acme", time.Now().Add(time.Hour))

	before := emb.Calls()
	_, _, err = m.FindBestMatch(ctx, "acme", "hours")
	require.NoError(t, err)
	assert.Equal(t, len(hoursEntries)+1, emb.Calls()-before, "one full recompute plus the query")

	before = emb.Calls()
	_, _, err = m.FindBestMatch(ctx, "acme", "hours")
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Calls()-before, "refreshed snapshot is reused")
}

func TestMatcher_LoadOnceIgnoresSourceUntilInvalidated(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	ctx := context.Background()

	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{Staleness: LoadOnce})

	_, err := m.Load(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, len(hoursEntries), emb.Calls())

	touchSource(t, files, "acme", time.Now().Add(time.Hour))
	_, err = m.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, len(hoursEntries), emb.Calls())

	m.Invalidate("acme")
	_, err = m.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2*len(hoursEntries), emb.Calls())
}

func TestMatcher_WatchPicksUpRewrites(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	ctx := context.Background()

	emb := gatewaytest.NewEmbedder()
	emb.Set("q", vec(1, 0))
	emb.Set("What are your hours?", vec(1, 0))
	emb.Set("Brand new question", vec(1, 0))
	m := newMatcher(t, files, emb, Options{Staleness: Watch, Threshold: threshold(0.9)})

	entry, _, err := m.FindBestMatch(ctx, "acme", "q")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "9-5 Mon-Fri", entry.Answer)

	require.NoError(t, files.WriteSource("acme", []Entry{
		{Questions: []string{"Brand new question"}, Answer: "brand new answer"},
	}))

	assert.Eventually(t, func() bool {
		entry, _, err := m.FindBestMatch(ctx, "acme", "q")
		return err == nil && entry != nil && entry.Answer == "brand new answer"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMatcher_EmbeddingFailurePropagates(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)
	ctx := context.Background()

	emb := gatewaytest.NewEmbedder()
	emb.FailOn("Where are you located?", gateway.ErrUpstreamUnavailable)
	m := newMatcher(t, files, emb, Options{})

	_, _, err := m.FindBestMatch(ctx, "acme", "hours")
	assert.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)
	assert.NoFileExists(t, files.ArtifactPath("acme"))

	emb2 := gatewaytest.NewEmbedder()
	emb2.FailOn("hours", gateway.ErrUpstreamUnavailable)
	m2 := newMatcher(t, files, emb2, Options{})
	_, _, err = m2.FindBestMatch(ctx, "acme", "hours")
	assert.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)
}

func TestMatcher_InvalidTenant(t *testing.T) {
	m := newMatcher(t, NewFiles(t.TempDir()), gatewaytest.NewEmbedder(), Options{})
	_, _, err := m.FindBestMatch(context.Background(), "../acme", "q")
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
}

func TestMatcher_MalformedSourceIsSoftMiss(t *testing.T) {
	files := NewFiles(t.TempDir())
	require.NoError(t, os.MkdirAll(files.TenantDir("acme"), 0o755))
	require.NoError(t, os.WriteFile(files.SourcePath("acme"), []byte("not json"), 0o644))

	m := newMatcher(t, files, gatewaytest.NewEmbedder(), Options{})
	loaded, err := m.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestMatcher_ConcurrentFirstLoadsEmbedOnce(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	emb := gatewaytest.NewEmbedder()
	m := newMatcher(t, files, emb, Options{})

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.FindBestMatch(context.Background(), "acme", "hours")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, len(hoursEntries)+callers, emb.Calls())
}

// gatedEmbedder holds every Embed call until release is closed.
type gatedEmbedder struct {
	*gatewaytest.Embedder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		Embedder: gatewaytest.NewEmbedder(),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Embedder.Embed(ctx, text)
}

func TestMatcher_CanceledCallerDoesNotFailOthers(t *testing.T) {
	files := NewFiles(t.TempDir())
	writeSource(t, files, "acme", hoursEntries)

	emb := newGatedEmbedder()
	m := newMatcher(t, files, emb, Options{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.Load(firstCtx, "acme")
		firstErr <- err
	}()
	<-emb.started

	type result struct {
		loaded bool
		err    error
	}
	second := make(chan result, 1)
	go func() {
		loaded, err := m.Load(context.Background(), "acme")
		second <- result{loaded, err}
	}()

	// A waiting caller leaves on its own cancellation.
	thirdCtx, cancelThird := context.WithCancel(context.Background())
	thirdErr := make(chan error, 1)
	go func() {
		_, err := m.Load(thirdCtx, "acme")
		thirdErr <- err
	}()
	cancelThird()
	select {
	case err := <-thirdErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled waiter did not return")
	}

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled first caller did not return")
	}

	// Give the second caller time to join the shared reload.
	time.Sleep(50 * time.Millisecond)
	close(emb.release)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.True(t, res.loaded)
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}

	entry, _, err := m.FindBestMatch(context.Background(), "acme", "What are your hours?")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "9-5 Mon-Fri", entry.Answer)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StalenessPolicy
		wantErr bool
	}{
		{"", CheckEachLookup, false},
		{"load_once", LoadOnce, false},
		{"check_each_lookup", CheckEachLookup, false},
		{"watch", Watch, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

