package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/cache"
	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/prompt"
	"github.com/fyrsmithlabs/assistd/internal/rag"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
)

type testServer struct {
	*Server
	store *vectorstore.Store
	llm   *gatewaytest.Generator
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	llm := gatewaytest.NewGenerator("Rockets ship on Tuesdays.")
	store, err := vectorstore.New(vectorstore.NewMemoryBackend(), gatewaytest.NewEmbedder(), vectorstore.Options{})
	require.NoError(t, err)

	c, err := cache.New("http_test", 16, nil)
	require.NoError(t, err)
	prompts := prompt.New(c, llm, store, prompt.Options{})

	answers, err := rag.New(nil, store, prompts, llm, rag.Options{})
	require.NoError(t, err)

	server, err := NewServer(Services{
		Answers:   answers,
		Ingest:    ingest.NewService(store, 0, nil),
		Prompts:   prompts,
		FAQ:       &fakeFAQ{entries: []faq.Entry{{Questions: []string{"When do rockets ship?"}, Answer: "Tuesdays."}}},
		Documents: store,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	return &testServer{Server: server, store: store, llm: llm}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type fakeFAQ struct {
	entries  []faq.Entry
	err      error
	priority string
}

func (f *fakeFAQ) Generate(_ context.Context, _, priority string) ([]faq.Entry, error) {
	f.priority = priority
	return f.entries, f.err
}

func TestNewServer(t *testing.T) {
	server := setupTestServer(t)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(server.services, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		services := server.services
		services.Documents = nil
		_, err := NewServer(services, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngestThenAnswer(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/answer", AnswerRequest{Query: "When do rockets ship?"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AnswerResponse](t, rec)
	assert.Equal(t, rag.InsufficientInformation, resp.Answer)
	assert.Equal(t, string(rag.SourceInsufficient), resp.Source)
	assert.Zero(t, server.llm.Calls())

	rec = server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{
		DocumentID: "shipping",
		Text:       "Rockets ship every Tuesday from the north pad.",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, IngestResponse{Status: ingest.StatusSuccess, Chunks: 1}, decode[IngestResponse](t, rec))

	rec = server.do(t, http.MethodPost, "/api/v1/tenants/acme/answer", AnswerRequest{
		Query:   "When do rockets ship?",
		History: []rag.Turn{{Role: "user", Content: "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[AnswerResponse](t, rec)
	assert.Equal(t, "Rockets ship on Tuesdays.", resp.Answer)
	assert.Equal(t, string(rag.SourceGenerated), resp.Source)

	req, ok := server.llm.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.User, "Rockets ship every Tuesday from the north pad.")
	assert.Contains(t, req.User, "User: Hi")
}

func TestHandleIngest(t *testing.T) {
	server := setupTestServer(t)

	t.Run("chunks", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{
			Chunks: []IngestChunk{{Text: "one", DocumentID: "a"}, {Text: "two", DocumentID: "a"}},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, IngestResponse{Status: ingest.StatusSuccess, Chunks: 2}, decode[IngestResponse](t, rec))
	})

	t.Run("page", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{
			URL:  "https://acme.test/about",
			Text: "About Acme.",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		text, err := server.store.DiscoverURLContent(context.Background(), "acme", 100)
		require.NoError(t, err)
		assert.Equal(t, "About Acme.", text)
	})

	t.Run("blank text fails without error", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{DocumentID: "d", Text: "  "})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ingest.StatusFailed, decode[IngestResponse](t, rec).Status)
	})

	t.Run("empty chunk list", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ingest.StatusFailed, decode[IngestResponse](t, rec).Status)
	})

	t.Run("both chunks and text", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{
			Text:   "x",
			Chunks: []IngestChunk{{Text: "y", DocumentID: "a"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("text without document id", func(t *testing.T) {
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{Text: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlePrompt(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/prompt", PromptRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PromptResponse{Prompt: prompt.DefaultPrompt, Strategy: prompt.StrategyDefault}, decode[PromptResponse](t, rec))

	body := PromptRequest{Personas: []string{"Engineers", "founders"}}
	rec = server.do(t, http.MethodPost, "/api/v1/tenants/acme/prompt", body)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[PromptResponse](t, rec)
	assert.Equal(t, prompt.StrategyPersonas, first.Strategy)
	assert.False(t, first.Cached)

	rec = server.do(t, http.MethodPost, "/api/v1/tenants/acme/prompt", body)
	second := decode[PromptResponse](t, rec)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, 1, server.llm.Calls())
}

func TestHandleGenerateFAQ(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/faq/generate", GenerateFAQRequest{Priority: "Closed Sundays."})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[GenerateFAQResponse](t, rec)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "Tuesdays.", resp.Entries[0].Answer)
	assert.Equal(t, "Closed Sundays.", server.services.FAQ.(*fakeFAQ).priority)

	t.Run("no content", func(t *testing.T) {
		server.services.FAQ.(*fakeFAQ).err = fmt.Errorf("acme: %w", faq.ErrNoContent)
		rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/faq/generate", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestDocuments(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/ingest", IngestRequest{DocumentID: "policy", Text: "Returns within 30 days."})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = server.do(t, http.MethodGet, "/api/v1/tenants/acme/documents/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Returns within 30 days.", decode[DocumentResponse](t, rec).Text)

	rec = server.do(t, http.MethodGet, "/api/v1/tenants/globex/documents/policy", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = server.do(t, http.MethodDelete, "/api/v1/tenants/acme/documents/policy", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = server.do(t, http.MethodGet, "/api/v1/tenants/acme/documents/policy", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = server.do(t, http.MethodDelete, "/api/v1/tenants/acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInvalidTenantRejected(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/bad.tenant/answer", AnswerRequest{Query: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, server.llm.Calls())
}

func TestAnswer_BlankQuery(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(t, http.MethodPost, "/api/v1/tenants/acme/answer", AnswerRequest{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/answer", bytes.NewReader([]byte("invalid json")))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	server.echo.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

type errAnswerer struct{ err error }

func (e errAnswerer) Answer(context.Context, rag.Request) (*rag.Answer, error) { return nil, e.err }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		log  string
	}{
		{"invalid input", fmt.Errorf("%w: query is required", rag.ErrInvalidInput), http.StatusBadRequest, "request rejected"},
		{"upstream", fmt.Errorf("%w: %w", gateway.ErrUpstreamUnavailable, errors.New("sk-secret rejected")), http.StatusBadGateway, "request failed"},
		{"storage", fmt.Errorf("search: %w", vectorstore.ErrStorageUnavailable), http.StatusServiceUnavailable, "request failed"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "request failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewTestLogger()
			base := setupTestServer(t)
			services := base.services
			services.Answers = errAnswerer{tt.err}
			server, err := NewServer(services, logger.Underlying(), nil)
			require.NoError(t, err)

			ts := &testServer{Server: server}
			rec := ts.do(t, http.MethodPost, "/api/v1/tenants/acme/answer", AnswerRequest{Query: "hi"})
			assert.Equal(t, tt.code, rec.Code)
			assert.NotContains(t, rec.Body.String(), "sk-secret")
			assert.Equal(t, 1, logger.FilterMessage(tt.log).Len())
		})
	}
}

func TestServerLifecycle(t *testing.T) {
	base := setupTestServer(t)
	server, err := NewServer(base.services, zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
