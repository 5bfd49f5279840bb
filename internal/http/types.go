package http

import (
	"errors"
	"strings"

	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/rag"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// AnswerRequest is the request body for POST .../answer.
type AnswerRequest struct {
	Query        string     `json:"query"`
	History      []rag.Turn `json:"history,omitempty"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
}

// AnswerResponse is the response body for POST .../answer.
type AnswerResponse struct {
	Answer string  `json:"answer"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// IngestChunk is one pre-sliced chunk.
type IngestChunk struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

// IngestRequest is the request body for POST .../ingest. Exactly one of
// Chunks or Text must be set; URL marks Text as a fetched page.
type IngestRequest struct {
	DocumentID string        `json:"document_id,omitempty"`
	Text       string        `json:"text,omitempty"`
	URL        string        `json:"url,omitempty"`
	Chunks     []IngestChunk `json:"chunks,omitempty"`
}

func (r IngestRequest) source() (ingest.Source, error) {
	switch {
	case len(r.Chunks) > 0 && r.Text != "":
		return nil, errors.New("set either chunks or text, not both")
	case len(r.Chunks) > 0:
		items := make([]vectorstore.ChunkInput, len(r.Chunks))
		for i, c := range r.Chunks {
			items[i] = vectorstore.ChunkInput{DocumentID: c.DocumentID, Content: c.Text}
		}
		return ingest.Chunks{Items: items}, nil
	case r.URL != "":
		return ingest.Page{URL: r.URL, Text: r.Text}, nil
	case strings.TrimSpace(r.DocumentID) == "" && r.Text != "":
		return nil, errors.New("document_id is required")
	default:
		return ingest.Text{DocumentID: r.DocumentID, Text: r.Text}, nil
	}
}

// IngestResponse is the response body for POST .../ingest.
type IngestResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// PromptRequest is the request body for POST .../prompt.
type PromptRequest struct {
	Personas []string `json:"personas"`
}

// PromptResponse is the response body for POST .../prompt.
type PromptResponse struct {
	Prompt   string `json:"prompt"`
	Strategy string `json:"strategy"`
	Cached   bool   `json:"cached"`
}

// GenerateFAQRequest is the request body for POST .../faq/generate.
type GenerateFAQRequest struct {
	Priority string `json:"priority,omitempty"`
}

// GenerateFAQResponse is the response body for POST .../faq/generate.
type GenerateFAQResponse struct {
	Entries []faq.Entry `json:"entries"`
}

// DocumentResponse is the response body for GET .../documents/:document.
type DocumentResponse struct {
	Text string `json:"text"`
}
