package vectorstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps chunks in process memory. Used for tests and
// ephemeral deployments.
type MemoryBackend struct {
	mu     sync.RWMutex
	nextID int64
	chunks map[string][]Chunk
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{chunks: make(map[string][]Chunk)}
}

// Insert implements Backend.
func (m *MemoryBackend) Insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		m.nextID++
		c.ID = m.nextID
		c.TenantID = tenantID
		c.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks[tenantID] = append(m.chunks[tenantID], c)
	}
	return nil
}

// Chunks implements Backend.
func (m *MemoryBackend) Chunks(ctx context.Context, tenantID string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Chunk(nil), m.chunks[tenantID]...), nil
}

// DocumentChunks implements Backend.
func (m *MemoryBackend) DocumentChunks(ctx context.Context, tenantID, documentID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, c := range m.chunks[tenantID] {
		if c.DocumentID == documentID {
			out = append(out, c.Content)
		}
	}
	return out, nil
}

// URLChunks implements Backend.
func (m *MemoryBackend) URLChunks(ctx context.Context, tenantID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, c := range m.chunks[tenantID] {
		if len(out) == limit {
			break
		}
		if isURL(c.DocumentID) {
			out = append(out, c.Content)
		}
	}
	return out, nil
}

// StoredDimension implements Dimensioner.
func (m *MemoryBackend) StoredDimension(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, chunks := range m.chunks {
		if len(chunks) > 0 {
			return len(chunks[0].Embedding), nil
		}
	}
	return 0, nil
}

// DeleteDocument implements Backend.
func (m *MemoryBackend) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.chunks[tenantID][:0]
	for _, c := range m.chunks[tenantID] {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	m.chunks[tenantID] = kept
	return nil
}

// DeleteTenant implements Backend.
func (m *MemoryBackend) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, tenantID)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
