package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Backend in process memory. It backs the "memory"
// storage type for local runs without a database, and the tests.
type MemoryStorage struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*GenerationRequest
}

// NewMemoryStorage creates an empty in-memory backend
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{requests: make(map[uuid.UUID]*GenerationRequest)}
}

// CreateRequest stores a new generation request record
func (m *MemoryStorage) CreateRequest(_ context.Context, req *GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

// GetRequest retrieves a generation request by ID
func (m *MemoryStorage) GetRequest(_ context.Context, id uuid.UUID) (*GenerationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// SetStatus updates only the lifecycle status of a request
func (m *MemoryStorage) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveDecision persists the guardrail decision for a request
func (m *MemoryStorage) SaveDecision(_ context.Context, id uuid.UUID, status string, reasons []string, scores map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.Reasons = reasons
	req.Scores = scores
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveGeneration persists the downstream generation output for a request
func (m *MemoryStorage) SaveGeneration(_ context.Context, id uuid.UUID, text string, imageB64 *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.ResultText = &text
	req.ResultImage = imageB64
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// Close is a no-op for the in-memory backend
func (m *MemoryStorage) Close() error {
	return nil
}
