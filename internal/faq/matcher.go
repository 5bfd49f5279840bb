package faq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/similarity"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("assistd.faq")

// DefaultThreshold is the minimum similarity for a confident match.
const DefaultThreshold = 0.85

// DefaultRefreshTimeout bounds one shared reload of a tenant's FAQ set.
const DefaultRefreshTimeout = 2 * time.Minute

// Options configures a Matcher.
type Options struct {
	// Threshold is inclusive: a score equal to it matches. Nil means
	// DefaultThreshold.
	Threshold *float64
	Staleness StalenessPolicy
	Scorer    similarity.Scorer
	Logger    *zap.Logger

	// RefreshTimeout bounds a reload shared by concurrent lookups.
	RefreshTimeout time.Duration
}

// snapshot is an immutable loaded FAQ set.
type snapshot struct {
	entries       []Entry
	embeddings    [][]float32
	sourceModTime time.Time
}

type tenantState struct {
	snap  atomic.Pointer[snapshot]
	stale atomic.Bool
}

// Matcher finds the FAQ entry closest to a query.
type Matcher struct {
	files     *Files
	embedder  gateway.Embedder
	opts      Options
	threshold float64
	logger    *zap.Logger

	mu      sync.RWMutex
	tenants map[string]*tenantState
	group   singleflight.Group

	watcher *Watcher
}

// NewMatcher creates a Matcher. With the Watch policy it starts a filesystem
// watcher that lives until Close.
func NewMatcher(files *Files, embedder gateway.Embedder, opts Options) (*Matcher, error) {
	if files == nil || embedder == nil {
		return nil, errors.New("faq: files and embedder are required")
	}
	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if opts.Staleness == "" {
		opts.Staleness = CheckEachLookup
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Scorer == nil {
		opts.Scorer = similarity.NewLinear()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Matcher{
		files:     files,
		embedder:  embedder,
		opts:      opts,
		threshold: threshold,
		logger:    opts.Logger,
		tenants:   make(map[string]*tenantState),
	}

	if opts.Staleness == Watch {
		w, err := NewWatcher(files, m.Invalidate, opts.Logger)
		if err != nil {
			return nil, err
		}
		w.Start(context.Background())
		m.watcher = w
	}
	return m, nil
}

// Close stops the watcher, if any.
func (m *Matcher) Close() error {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	return nil
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

func (m *Matcher) state(tenantID string) *tenantState {
	m.mu.RLock()
	st, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.tenants[tenantID]; !ok {
		st = &tenantState{}
		m.tenants[tenantID] = st
	}
	return st
}

// Invalidate marks the tenant's snapshot stale. The next lookup reloads it.
func (m *Matcher) Invalidate(tenantID string) {
	m.state(tenantID).stale.Store(true)
	m.logger.Debug("faq snapshot invalidated", zap.String("tenant.id", tenantID))
}

// Load makes sure the tenant's FAQ set is loaded and current. It returns
// false without error when the tenant has no usable FAQ source.
func (m *Matcher) Load(ctx context.Context, tenantID string) (bool, error) {
	if err := tenant.Validate(tenantID); err != nil {
		return false, err
	}

	st := m.state(tenantID)
	if snap := st.snap.Load(); snap != nil && !m.isStale(tenantID, st, snap) {
		return true, nil
	}

	// The refresh is shared, so it must outlive any one caller.
	ch := m.group.DoChan(tenantID, func() (interface{}, error) {
		// Another flight may have refreshed while we waited.
		if snap := st.snap.Load(); snap != nil && !m.isStale(tenantID, st, snap) {
			return true, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()
		return m.refresh(rctx, tenantID, st)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (m *Matcher) isStale(tenantID string, st *tenantState, snap *snapshot) bool {
	if st.stale.Load() {
		return true
	}
	if len(snap.entries) != len(snap.embeddings) {
		return true
	}
	if m.opts.Staleness != CheckEachLookup {
		return false
	}

	modTime, err := m.files.StatSource(tenantID)
	if err != nil {
		// Source removed or unreadable: reload to find out.
		return true
	}
	return modTime.After(snap.sourceModTime)
}

func (m *Matcher) refresh(ctx context.Context, tenantID string, st *tenantState) (bool, error) {
	ctx, span := tracer.Start(ctx, "Matcher.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	// Cleared before reading so an invalidation during the read is kept.
	st.stale.Store(false)

	entries, modTime, err := m.files.ReadSource(tenantID)
	if err != nil {
		st.snap.Store(nil)
		if errors.Is(err, ErrNoSource) {
			m.logger.Debug("no faq source", zap.String("tenant.id", tenantID))
		} else {
			m.logger.Warn("faq source unusable", zap.String("tenant.id", tenantID), zap.Error(err))
		}
		return false, nil
	}

	mode := "artifact"
	embeddings, ok := m.reuseArtifact(tenantID, entries, modTime)
	if !ok {
		mode = "recomputed"
		embeddings, err = m.embedAnchors(ctx, entries)
		if err != nil {
			st.stale.Store(true)
			span.RecordError(err)
			return false, err
		}
		werr := m.files.writeArtifact(tenantID, &artifact{Anchors: anchors(entries), Embeddings: embeddings})
		if werr != nil {
			m.logger.Warn("could not persist faq embeddings", zap.String("tenant.id", tenantID), zap.Error(werr))
		}
	}

	st.snap.Store(&snapshot{
		entries:       entries,
		embeddings:    embeddings,
		sourceModTime: modTime,
	})
	RefreshesTotal.WithLabelValues(mode).Inc()

	if m.watcher != nil {
		if err := m.watcher.Watch(tenantID); err != nil {
			m.logger.Warn("could not watch faq source", zap.String("tenant.id", tenantID), zap.Error(err))
		}
	}

	m.logger.Info("faq loaded",
		zap.String("tenant.id", tenantID),
		zap.Int("entries", len(entries)),
		zap.String("mode", mode))
	return true, nil
}

// reuseArtifact returns the persisted embeddings when they are newer than the
// source and were computed from exactly the current anchors.
func (m *Matcher) reuseArtifact(tenantID string, entries []Entry, sourceModTime time.Time) ([][]float32, bool) {
	a, artifactModTime, err := m.files.readArtifact(tenantID)
	if err != nil {
		return nil, false
	}
	if !artifactModTime.After(sourceModTime) {
		return nil, false
	}
	if len(a.Embeddings) != len(entries) || len(a.Anchors) != len(entries) {
		return nil, false
	}
	for i, e := range entries {
		if a.Anchors[i] != e.Anchor() {
			return nil, false
		}
	}
	return a.Embeddings, true
}

func (m *Matcher) embedAnchors(ctx context.Context, entries []Entry) ([][]float32, error) {
	embeddings := make([][]float32, len(entries))
	for i, e := range entries {
		vec, err := m.embedder.Embed(ctx, e.Anchor())
		if err != nil {
			return nil, fmt.Errorf("embedding faq anchor %d: %w", i, err)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// FindBestMatch returns the entry closest to query when its score reaches
// the threshold. The best score is returned either way; it is 0 when the
// tenant has no FAQ entries.
func (m *Matcher) FindBestMatch(ctx context.Context, tenantID, query string) (*Entry, float64, error) {
	ctx, span := tracer.Start(ctx, "Matcher.FindBestMatch")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	loaded, err := m.Load(ctx, tenantID)
	if err != nil {
		LookupsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, 0, err
	}
	if !loaded {
		LookupsTotal.WithLabelValues("no_source").Inc()
		return nil, 0, nil
	}

	snap := m.state(tenantID).snap.Load()
	if snap == nil || len(snap.entries) == 0 {
		LookupsTotal.WithLabelValues("empty").Inc()
		return nil, 0, nil
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		LookupsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, 0, fmt.Errorf("embedding query: %w", err)
	}

	candidates := make([]similarity.Candidate, len(snap.embeddings))
	for i, e := range snap.embeddings {
		candidates[i] = similarity.Candidate{Index: i, Vector: e}
	}
	best, _ := m.opts.Scorer.Best(vec, candidates)
	MatchScore.Observe(best.Score)
	span.SetAttributes(attribute.Float64("faq.score", best.Score))

	if best.Score >= m.threshold {
		LookupsTotal.WithLabelValues("hit").Inc()
		entry := snap.entries[best.Index]
		return &entry, best.Score, nil
	}
	LookupsTotal.WithLabelValues("miss").Inc()
	return nil, best.Score, nil
}

func anchors(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Anchor()
	}
	return out
}
