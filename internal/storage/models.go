package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states. QUEUED and PROCESSING are transient; PASS, BLOCK,
// and ERROR are terminal. ERROR is reserved for unexpected faults escaping
// the pipeline; a guardrail refusal is BLOCK, not ERROR.
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusPass       = "PASS"
	StatusBlock      = "BLOCK"
	StatusError      = "ERROR"
)

// ErrNotFound is returned when a generation request does not exist.
var ErrNotFound = errors.New("generation request not found")

// GenerationRequest is the persisted record of one submitted job: the
// inputs, the guardrail decision, and (after a PASS) the generation output.
type GenerationRequest struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	Prompt      string         `json:"prompt" db:"prompt"`
	ImageHash   *string        `json:"image_hash,omitempty" db:"image_hash"`
	Status      string         `json:"status" db:"status"`
	Reasons     []string       `json:"reasons" db:"reasons"`
	Scores      map[string]any `json:"scores" db:"scores"`
	ResultText  *string        `json:"result_text,omitempty" db:"result_text"`
	ResultImage *string        `json:"result_image,omitempty" db:"result_image"` // base64 encoded
}

// NewGenerationRequest creates a queued request record for a prompt.
func NewGenerationRequest(prompt string) *GenerationRequest {
	now := time.Now().UTC()
	return &GenerationRequest{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Prompt:    prompt,
		Status:    StatusQueued,
	}
}

// Backend defines the interface for different storage implementations
type Backend interface {
	CreateRequest(ctx context.Context, req *GenerationRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*GenerationRequest, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	SaveDecision(ctx context.Context, id uuid.UUID, status string, reasons []string, scores map[string]any) error
	SaveGeneration(ctx context.Context, id uuid.UUID, text string, imageB64 *string) error
	Close() error
}
