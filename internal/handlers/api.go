package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/AnkitKoranga/guardrail/internal/storage"
	"github.com/AnkitKoranga/guardrail/internal/worker"
)

// Multipart forms are parsed with this much in-memory buffer; larger file
// parts spill to disk.
const maxMultipartMemory = 8 << 20

// API serves the job-submission surface: create a generation request, poll
// its status.
type API struct {
	backend       storage.Backend
	pool          *worker.Pool
	maxImageBytes int64
}

// NewAPI creates the API handler set
func NewAPI(backend storage.Backend, pool *worker.Pool, maxImageBytes int64) *API {
	return &API{backend: backend, pool: pool, maxImageBytes: maxImageBytes}
}

// Generate handles POST /v1/generate. It accepts a multipart form with a
// required "prompt" field and an optional "image" file, creates a QUEUED
// record, and hands the job to the worker pool.
func (a *API) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	prompt := r.FormValue("prompt")
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	req := storage.NewGenerationRequest(prompt)

	var imageBytes []byte
	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		imageBytes, err = io.ReadAll(io.LimitReader(file, a.maxImageBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read image: %v", err))
			return
		}
		hash := sha256.Sum256(imageBytes)
		hashHex := hex.EncodeToString(hash[:])
		req.ImageHash = &hashHex
	}

	// Oversized uploads are refused before queuing; the hygiene stage would
	// block them anyway, but there is no point shipping megabytes to a
	// worker first.
	if int64(len(imageBytes)) > a.maxImageBytes {
		req.Status = storage.StatusBlock
		req.Reasons = []string{"Image too large (pre-check)"}
		if err := a.backend.CreateRequest(r.Context(), req); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create request")
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	if err := a.backend.CreateRequest(r.Context(), req); err != nil {
		log.Printf("[ERROR] Failed to create generation request: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	err := a.pool.Submit(worker.Job{RequestID: req.ID, Prompt: prompt, ImageBytes: imageBytes})
	if err != nil {
		log.Printf("[ERROR] Failed to enqueue job %s: %v", req.ID, err)
		if err := a.backend.SaveDecision(r.Context(), req.ID, storage.StatusError, []string{err.Error()}, nil); err != nil {
			log.Printf("[ERROR] Failed to mark job %s errored: %v", req.ID, err)
		}
		writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, req)
}

// Status handles GET /v1/requests/{id}.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := a.backend.GetRequest(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] Failed to fetch generation request %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// Health handles GET /healthz.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
