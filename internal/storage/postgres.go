package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStorage implements Backend for PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// PostgresConfig holds configuration for the PostgreSQL connection
type PostgresConfig struct {
	ConnectionURL   string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS generation_requests (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	prompt TEXT NOT NULL,
	image_hash VARCHAR(64),
	status VARCHAR(20) NOT NULL,
	reasons JSONB NOT NULL DEFAULT '[]',
	scores JSONB NOT NULL DEFAULT '{}',
	result_text TEXT,
	result_image TEXT
)`

// NewPostgresStorage creates a new PostgreSQL storage backend
func NewPostgresStorage(config PostgresConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Println("Connected to PostgreSQL successfully")

	return &PostgresStorage{db: db}, nil
}

// CreateRequest inserts a new generation request record
func (p *PostgresStorage) CreateRequest(ctx context.Context, req *GenerationRequest) error {
	reasonsJSON, err := json.Marshal(reasonsOrEmpty(req.Reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	scoresJSON, err := json.Marshal(scoresOrEmpty(req.Scores))
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	query := `
		INSERT INTO generation_requests (
			id, created_at, updated_at, prompt, image_hash, status,
			reasons, scores, result_text, result_image
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = p.db.ExecContext(ctx, query,
		req.ID, req.CreatedAt, req.UpdatedAt, req.Prompt, req.ImageHash,
		req.Status, reasonsJSON, scoresJSON, req.ResultText, req.ResultImage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation request: %w", err)
	}
	return nil
}

// GetRequest retrieves a generation request by ID
func (p *PostgresStorage) GetRequest(ctx context.Context, id uuid.UUID) (*GenerationRequest, error) {
	query := `
		SELECT id, created_at, updated_at, prompt, image_hash, status,
		       reasons, scores, result_text, result_image
		FROM generation_requests WHERE id = $1`

	var req GenerationRequest
	var reasonsJSON, scoresJSON []byte

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.CreatedAt, &req.UpdatedAt, &req.Prompt, &req.ImageHash,
		&req.Status, &reasonsJSON, &scoresJSON, &req.ResultText, &req.ResultImage,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation request: %w", err)
	}

	if err := json.Unmarshal(reasonsJSON, &req.Reasons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &req.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}

	return &req, nil
}

// SetStatus updates only the lifecycle status of a request
func (p *PostgresStorage) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE generation_requests SET status = $2, updated_at = $3 WHERE id = $1`
	return p.execOne(ctx, query, id, status, time.Now().UTC())
}

// SaveDecision persists the guardrail decision for a request
func (p *PostgresStorage) SaveDecision(ctx context.Context, id uuid.UUID, status string, reasons []string, scores map[string]any) error {
	reasonsJSON, err := json.Marshal(reasonsOrEmpty(reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	scoresJSON, err := json.Marshal(scoresOrEmpty(scores))
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	query := `
		UPDATE generation_requests
		SET status = $2, reasons = $3, scores = $4, updated_at = $5
		WHERE id = $1`
	return p.execOne(ctx, query, id, status, reasonsJSON, scoresJSON, time.Now().UTC())
}

// SaveGeneration persists the downstream generation output for a request
func (p *PostgresStorage) SaveGeneration(ctx context.Context, id uuid.UUID, text string, imageB64 *string) error {
	query := `
		UPDATE generation_requests
		SET result_text = $2, result_image = $3, updated_at = $4
		WHERE id = $1`
	return p.execOne(ctx, query, id, text, imageB64, time.Now().UTC())
}

// Close closes the database connection
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

// execOne runs an update that must affect exactly one row
func (p *PostgresStorage) execOne(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	all := append([]any{id}, args...)
	result, err := p.db.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("failed to update generation request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func reasonsOrEmpty(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}

func scoresOrEmpty(scores map[string]any) map[string]any {
	if scores == nil {
		return map[string]any{}
	}
	return scores
}
