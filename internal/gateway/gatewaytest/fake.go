// Package gatewaytest provides deterministic in-process model providers.
package gatewaytest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/fyrsmithlabs/assistd/internal/gateway"
)

// Dimension is the vector size produced by Embedder.
const Dimension = 64

// Embedder hashes lowercase words into a fixed-size bag-of-words vector.
// Texts sharing words score a positive cosine; identical texts score 1.
type Embedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	failures map[string]error
	calls    atomic.Int64
	Err      error
}

// NewEmbedder returns a fake embedder.
func NewEmbedder() *Embedder {
	return &Embedder{
		vectors:  make(map[string][]float32),
		failures: make(map[string]error),
	}
}

// Set pins the vector returned for text.
func (e *Embedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// FailOn makes Embed return err for text.
func (e *Embedder) FailOn(text string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[text] = err
}

// Calls returns the number of Embed calls.
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

// Embed implements gateway.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failures[text]; ok {
		return nil, err
	}
	if v, ok := e.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return HashVector(text), nil
}

// HashVector is the default fake embedding of text.
func HashVector(text string) []float32 {
	vec := make([]float32, Dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%Dimension]++
	}
	return vec
}

// Generator records requests and returns scripted responses.
type Generator struct {
	mu       sync.Mutex
	requests []gateway.GenerateRequest
	calls    atomic.Int64

	// Response builds the reply. Defaults to echoing a fixed string.
	Response func(req gateway.GenerateRequest) (string, error)

	// Block, when set, is waited on before answering.
	Block chan struct{}
}

// NewGenerator returns a generator that always answers reply.
func NewGenerator(reply string) *Generator {
	return &Generator{
		Response: func(gateway.GenerateRequest) (string, error) { return reply, nil },
	}
}

// Generate implements gateway.Generator.
func (g *Generator) Generate(ctx context.Context, req gateway.GenerateRequest) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.Response == nil {
		return "ok", nil
	}
	return g.Response(req)
}

// Calls returns the number of Generate calls.
func (g *Generator) Calls() int { return int(g.calls.Load()) }

// Requests returns a copy of the recorded requests.
func (g *Generator) Requests() []gateway.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.GenerateRequest(nil), g.requests...)
}

// LastRequest returns the most recent request.
func (g *Generator) LastRequest() (gateway.GenerateRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return gateway.GenerateRequest{}, false
	}
	return g.requests[len(g.requests)-1], true
}
