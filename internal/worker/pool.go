// Package worker runs guardrail jobs off the request thread: a buffered
// channel feeds a fixed pool of workers that drive each job through the
// pipeline, persist the decision, and call the generation API on PASS.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AnkitKoranga/guardrail/internal/generation"
	"github.com/AnkitKoranga/guardrail/internal/guardrail"
	"github.com/AnkitKoranga/guardrail/internal/storage"
)

// ErrQueueFull is returned by Submit when the job buffer is at capacity.
var ErrQueueFull = errors.New("worker queue full")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Job is one queued generation request.
type Job struct {
	RequestID  uuid.UUID
	Prompt     string
	ImageBytes []byte
}

// Pool is the asynchronous job runner.
type Pool struct {
	backend   storage.Backend
	engine    *guardrail.Engine
	generator generation.Generator

	jobs   chan Job
	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	jobTimeout time.Duration
}

// Config holds configuration for the worker pool
type Config struct {
	Backend   storage.Backend
	Engine    *guardrail.Engine
	Generator generation.Generator
	Workers   int
	QueueSize int
	// JobTimeout bounds one full job including classifier and generation
	// calls. A hard timeout surfaces as a terminal ERROR, not a BLOCK.
	JobTimeout time.Duration
}

// NewPool creates and starts a worker pool.
func NewPool(config Config) *Pool {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	pool := &Pool{
		backend:    config.Backend,
		engine:     config.Engine,
		generator:  config.Generator,
		jobs:       make(chan Job, config.QueueSize),
		group:      group,
		cancel:     cancel,
		jobTimeout: config.JobTimeout,
	}

	for i := 0; i < config.Workers; i++ {
		group.Go(func() error {
			return pool.worker(ctx)
		})
	}

	return pool
}

// Submit enqueues a job without blocking. Jobs execute at least the
// persistence of a terminal state; callers poll the request record for the
// outcome.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// worker drains the job channel until the pool shuts down.
func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.process(ctx, job)
		}
	}
}

// process drives one job through PROCESSING to a terminal state. Any panic
// or unexpected fault escaping the pipeline becomes ERROR, distinct from a
// guardrail BLOCK, and the generation API is never called for it.
func (p *Pool) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Job %s panicked: %v", job.RequestID, r)
			p.fail(job.RequestID, fmt.Errorf("unexpected fault: %v", r))
		}
	}()

	if err := p.backend.SetStatus(ctx, job.RequestID, storage.StatusProcessing); err != nil {
		log.Printf("[ERROR] Failed to mark job %s processing: %v", job.RequestID, err)
		return
	}

	result := p.engine.Process(ctx, job.Prompt, job.ImageBytes)

	if err := p.backend.SaveDecision(ctx, job.RequestID, string(result.Status), result.Reasons, result.Scores); err != nil {
		log.Printf("[ERROR] Failed to persist decision for job %s: %v", job.RequestID, err)
		return
	}

	if result.Status != guardrail.StatusPass {
		return
	}

	// Image-led jobs generate from the canonical template phrase; prompt-led
	// jobs use the user's own prompt.
	prompt := job.Prompt
	if result.UseCase() == guardrail.UseCaseImageAnalysis {
		prompt = guardrail.ImageAnalysisPrompt
	}

	output, err := p.generator.Generate(ctx, prompt, p.imageForGeneration(job, result))
	if err != nil {
		log.Printf("[ERROR] Generation failed for job %s: %v", job.RequestID, err)
		p.fail(job.RequestID, err)
		return
	}

	if err := p.backend.SaveGeneration(ctx, job.RequestID, output.Text, output.ImageB64); err != nil {
		log.Printf("[ERROR] Failed to persist generation for job %s: %v", job.RequestID, err)
	}
}

// imageForGeneration returns the sanitized JPEG to attach to the generation
// call. A cache-hit PASS carries no image handle in metadata; the sanitizer
// alone re-derives it from the original bytes, with no classifier re-run.
func (p *Pool) imageForGeneration(job Job, result *guardrail.Result) []byte {
	if img := result.Image(); img != nil {
		return img.JPEG
	}
	if job.ImageBytes == nil {
		return nil
	}

	res := p.engine.Sanitizer().Sanitize(job.ImageBytes)
	if res.Blocked() {
		// Identical bytes already passed hygiene when the decision was
		// cached; reaching here means policy limits changed since.
		log.Printf("[WARNING] Could not re-derive sanitized image for job %s: %v", job.RequestID, res.Reasons)
		return nil
	}
	return res.Image().JPEG
}

// fail marks a job as terminally errored.
func (p *Pool) fail(id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.backend.SaveDecision(ctx, id, storage.StatusError, []string{cause.Error()}, nil); err != nil {
		log.Printf("[ERROR] Failed to mark job %s errored: %v", id, err)
	}
}

// Close stops accepting jobs, drains the queue, and waits for workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		p.cancel()
		return err
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for workers to finish")
		p.cancel()
		return <-done
	}
}
