package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkitKoranga/guardrail/internal/generation"
	"github.com/AnkitKoranga/guardrail/internal/guardrail"
	"github.com/AnkitKoranga/guardrail/internal/storage"
	"github.com/AnkitKoranga/guardrail/internal/worker"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder not expected in this test")
}

type stubCLIP struct{}

func (stubCLIP) Scores(_ context.Context, _ []byte, labels []string) ([]float64, error) {
	scores := make([]float64, len(labels))
	scores[0] = 0.9
	return scores, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, []byte) (*generation.Output, error) {
	return &generation.Output{Text: "Generated successfully."}, nil
}

const testMaxImageBytes = 1 << 20

func newTestAPI(t *testing.T) (*API, storage.Backend) {
	t.Helper()

	policy := guardrail.Policy{
		MaxPromptChars:  800,
		MaxImageBytes:   testMaxImageBytes,
		MaxPixels:       1536 * 1536,
		Margin:          0.1,
		DomainThreshold: 0.55,
	}
	engine := guardrail.NewEngine(
		policy,
		guardrail.NewDecisionCache(nil, time.Hour),
		guardrail.NewSanitizer(policy.MaxImageBytes, policy.MaxPixels),
		guardrail.NewDomainChecker(stubEmbedder{}, policy.DomainThreshold),
		guardrail.NewImageChecker(stubCLIP{}, policy.Margin),
	)

	backend := storage.NewMemoryStorage()
	pool := worker.NewPool(worker.Config{
		Backend:   backend,
		Engine:    engine,
		Generator: stubGenerator{},
		Workers:   1,
	})
	t.Cleanup(func() { pool.Close() })

	return NewAPI(backend, pool, testMaxImageBytes), backend
}

// multipartBody builds a multipart form with an optional image file part.
func multipartBody(t *testing.T, prompt string, image []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if prompt != "" {
		require.NoError(t, writer.WriteField("prompt", prompt))
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func postGenerate(t *testing.T, api *API, prompt string, image []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, prompt, image)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	api.Generate(rec, req)
	return rec
}

func decodeRecord(t *testing.T, body io.Reader) *storage.GenerationRequest {
	t.Helper()
	var rec storage.GenerationRequest
	require.NoError(t, json.NewDecoder(body).Decode(&rec))
	return &rec
}

func TestGenerate(t *testing.T) {
	t.Run("Should accept a prompt and queue the job", func(t *testing.T) {
		api, backend := newTestAPI(t)

		rec := postGenerate(t, api, "how to cook pasta", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		record := decodeRecord(t, rec.Body)
		assert.Equal(t, "how to cook pasta", record.Prompt)
		assert.NotEqual(t, uuid.Nil, record.ID)
		assert.Nil(t, record.ImageHash)

		require.Eventually(t, func() bool {
			r, err := backend.GetRequest(context.Background(), record.ID)
			return err == nil && r.Status == storage.StatusPass
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("Should reject a missing prompt", func(t *testing.T) {
		api, _ := newTestAPI(t)

		rec := postGenerate(t, api, "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Prompt is required", resp["error"])
	})

	t.Run("Should record the image hash for uploads", func(t *testing.T) {
		api, _ := newTestAPI(t)

		rec := postGenerate(t, api, "dinner idea", []byte("not really a png"))
		require.Equal(t, http.StatusAccepted, rec.Code)

		record := decodeRecord(t, rec.Body)
		require.NotNil(t, record.ImageHash)
		assert.Len(t, *record.ImageHash, 64)
	})

	t.Run("Should block oversized uploads before queuing", func(t *testing.T) {
		api, backend := newTestAPI(t)

		rec := postGenerate(t, api, "dinner idea", make([]byte, testMaxImageBytes+1))
		require.Equal(t, http.StatusOK, rec.Code)

		record := decodeRecord(t, rec.Body)
		assert.Equal(t, storage.StatusBlock, record.Status)
		require.NotEmpty(t, record.Reasons)
		assert.Contains(t, record.Reasons[0], "Image too large")

		// The record is terminal at creation; it never reaches a worker.
		got, err := backend.GetRequest(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusBlock, got.Status)
	})

	t.Run("Should reject non-POST methods", func(t *testing.T) {
		api, _ := newTestAPI(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/generate", nil)
		rec := httptest.NewRecorder()
		api.Generate(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStatus(t *testing.T) {
	t.Run("Should return the stored record", func(t *testing.T) {
		api, backend := newTestAPI(t)

		stored := storage.NewGenerationRequest("sushi platter")
		require.NoError(t, backend.CreateRequest(context.Background(), stored))

		req := httptest.NewRequest(http.MethodGet, "/v1/requests/"+stored.ID.String(), nil)
		rec := httptest.NewRecorder()
		api.Status(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		record := decodeRecord(t, rec.Body)
		assert.Equal(t, stored.ID, record.ID)
		assert.Equal(t, storage.StatusQueued, record.Status)
	})

	t.Run("Should reject a malformed id", func(t *testing.T) {
		api, _ := newTestAPI(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/requests/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		api.Status(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should return 404 for an unknown id", func(t *testing.T) {
		api, _ := newTestAPI(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/requests/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		api.Status(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
}
