package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkitKoranga/guardrail/internal/generation"
	"github.com/AnkitKoranga/guardrail/internal/guardrail"
	"github.com/AnkitKoranga/guardrail/internal/storage"
)

// stubEmbedder keeps the domain stage on its keyword fast path honest: any
// prompt that reaches the embedding fallback fails the test setup.
type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedder not expected in this test")
}

// stubCLIP peaks on the first label of whatever label set it is given, which
// passes the food gate and identifies the first food type.
type stubCLIP struct{}

func (stubCLIP) Scores(_ context.Context, _ []byte, labels []string) ([]float64, error) {
	scores := make([]float64, len(labels))
	scores[0] = 0.9
	return scores, nil
}

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	images  [][]byte
	err     error
	started chan struct{}
	release chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, imageJPEG []byte) (*generation.Output, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.images = append(g.images, imageJPEG)
	g.mu.Unlock()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &generation.Output{Text: "Generated successfully."}, nil
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *stubGenerator) promptAt(i int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[i]
}

func (g *stubGenerator) imageAt(i int) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.images[i]
}

func testEngine() *guardrail.Engine {
	policy := guardrail.Policy{
		MaxPromptChars:  800,
		MaxImageBytes:   5 * 1024 * 1024,
		MaxPixels:       1536 * 1536,
		Margin:          0.1,
		DomainThreshold: 0.55,
	}
	return guardrail.NewEngine(
		policy,
		guardrail.NewDecisionCache(nil, time.Hour),
		guardrail.NewSanitizer(policy.MaxImageBytes, policy.MaxPixels),
		guardrail.NewDomainChecker(stubEmbedder{}, policy.DomainThreshold),
		guardrail.NewImageChecker(stubCLIP{}, policy.Margin),
	)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))))
	return buf.Bytes()
}

func submitAndWait(t *testing.T, pool *Pool, backend storage.Backend, req *storage.GenerationRequest, imageBytes []byte) *storage.GenerationRequest {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, backend.CreateRequest(ctx, req))
	require.NoError(t, pool.Submit(Job{RequestID: req.ID, Prompt: req.Prompt, ImageBytes: imageBytes}))

	var got *storage.GenerationRequest
	require.Eventually(t, func() bool {
		r, err := backend.GetRequest(ctx, req.ID)
		if err != nil {
			return false
		}
		switch r.Status {
		case storage.StatusPass, storage.StatusBlock, storage.StatusError:
			got = r
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestPool(t *testing.T) {
	t.Run("Should run a passing prompt job through to generation", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1})
		defer pool.Close()

		got := submitAndWait(t, pool, backend, storage.NewGenerationRequest("how to cook pasta"), nil)
		assert.Equal(t, storage.StatusPass, got.Status)

		require.Eventually(t, func() bool {
			r, err := backend.GetRequest(context.Background(), got.ID)
			return err == nil && r.ResultText != nil
		}, 5*time.Second, 10*time.Millisecond)

		require.Equal(t, 1, gen.calls())
		assert.Equal(t, "how to cook pasta", gen.promptAt(0))
		assert.Nil(t, gen.imageAt(0))
	})

	t.Run("Should persist a BLOCK without calling the generator", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1})
		defer pool.Close()

		got := submitAndWait(t, pool, backend, storage.NewGenerationRequest("kill them all"), nil)
		assert.Equal(t, storage.StatusBlock, got.Status)
		require.NotEmpty(t, got.Reasons)
		assert.Contains(t, got.Reasons[0], "kill")
		assert.Equal(t, 0, gen.calls())
	})

	t.Run("Should mark the job ERROR when generation fails", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{err: errors.New("generation API returned status 500")}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1})
		defer pool.Close()

		got := submitAndWait(t, pool, backend, storage.NewGenerationRequest("how to cook pasta"), nil)
		assert.Equal(t, storage.StatusError, got.Status)
		require.NotEmpty(t, got.Reasons)
		assert.Contains(t, got.Reasons[0], "status 500")
	})

	t.Run("Should generate image-led jobs from the template phrase with the image attached", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1})
		defer pool.Close()

		req := storage.NewGenerationRequest(guardrail.ImageAnalysisPrompt)
		got := submitAndWait(t, pool, backend, req, pngBytes(t))
		assert.Equal(t, storage.StatusPass, got.Status)

		require.Eventually(t, func() bool { return gen.calls() == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, guardrail.ImageAnalysisPrompt, gen.promptAt(0))
		assert.NotNil(t, gen.imageAt(0))
	})

	t.Run("Should reject submissions after Close", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: &stubGenerator{}, Workers: 1})
		require.NoError(t, pool.Close())

		err := pool.Submit(Job{RequestID: storage.NewGenerationRequest("x").ID, Prompt: "x"})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("Should reject submissions when the queue is full", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{
			started: make(chan struct{}, 4),
			release: make(chan struct{}),
		}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1, QueueSize: 1})
		defer pool.Close()

		ctx := context.Background()
		busy := storage.NewGenerationRequest("how to cook pasta")
		require.NoError(t, backend.CreateRequest(ctx, busy))
		require.NoError(t, pool.Submit(Job{RequestID: busy.ID, Prompt: busy.Prompt}))
		// Wait until the single worker is parked inside the generator.
		<-gen.started

		queued := storage.NewGenerationRequest("how to cook pasta")
		require.NoError(t, backend.CreateRequest(ctx, queued))
		require.NoError(t, pool.Submit(Job{RequestID: queued.ID, Prompt: queued.Prompt}))

		overflow := storage.NewGenerationRequest("how to cook pasta")
		require.NoError(t, backend.CreateRequest(ctx, overflow))
		err := pool.Submit(Job{RequestID: overflow.ID, Prompt: overflow.Prompt})
		assert.ErrorIs(t, err, ErrQueueFull)

		close(gen.release)
	})

	t.Run("Should drain queued jobs on Close", func(t *testing.T) {
		backend := storage.NewMemoryStorage()
		gen := &stubGenerator{}
		pool := NewPool(Config{Backend: backend, Engine: testEngine(), Generator: gen, Workers: 1})

		ctx := context.Background()
		req := storage.NewGenerationRequest("how to cook pasta")
		require.NoError(t, backend.CreateRequest(ctx, req))
		require.NoError(t, pool.Submit(Job{RequestID: req.ID, Prompt: req.Prompt}))
		require.NoError(t, pool.Close())

		got, err := backend.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusPass, got.Status)
	})
}
