package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/infernalforge/forge/internal/domain"
	"github.com/infernalforge/forge/internal/pipeline"
	"github.com/infernalforge/forge/internal/ratelimit"
	"github.com/infernalforge/forge/internal/store"
)

// Dispatcher owns the job lifecycle. Submit admits a request, records the
// job, and launches the generation in the background; the caller gets the
// job id immediately and polls the job store for the outcome.
//
// Capacity discipline: the user's concurrency slot is taken by Admit inside
// Submit and returned exactly once, on every exit path, including the
// window before the background goroutine starts and any panic inside the
// pipeline. When the slot is held, either the goroutine's deferred Release
// or Submit's own flag-guarded Release runs, never both.
type Dispatcher struct {
	limiter   *ratelimit.Limiter
	jobs      *store.JobStore
	artifacts *store.ArtifactRegistry
	provider  *pipeline.Provider
	outputDir string // absolute artifact root; per-user dirs live below it
}

// NewDispatcher wires a Dispatcher to its collaborators. outputDir is the
// artifact root; relative paths stored in the registry are computed against
// it.
func NewDispatcher(
	limiter *ratelimit.Limiter,
	jobs *store.JobStore,
	artifacts *store.ArtifactRegistry,
	provider *pipeline.Provider,
	outputDir string,
) *Dispatcher {
	return &Dispatcher{
		limiter:   limiter,
		jobs:      jobs,
		artifacts: artifacts,
		provider:  provider,
		outputDir: outputDir,
	}
}

// Submit admits and dispatches one generation request. It returns the new
// job id without waiting for the generation, or an admission denial from the
// rate limiter (ratelimit.IsDenied distinguishes those from faults).
// Parameters must already be validated.
func (d *Dispatcher) Submit(userID string, params domain.GenerateParams) (string, error) {
	if err := d.limiter.Admit(userID); err != nil {
		return "", err
	}

	// From here the slot is held; hand it to the goroutine or give it back.
	dispatched := false
	defer func() {
		if !dispatched {
			d.limiter.Release(userID)
		}
	}()

	jobID := uuid.NewString()
	d.jobs.Create(jobID, userID, params)
	jobsStarted.Inc()
	jobsInflight.Inc()

	go d.run(jobID, userID, params)
	dispatched = true

	log.Info().Str("job_id", jobID).Str("user_id", userID).Msg("job dispatched")
	return jobID, nil
}

// run executes one job to its terminal state. It never outlives a fault:
// panics and errors both land in the failed state, and the user's slot is
// released exactly once regardless.
func (d *Dispatcher) run(jobID, userID string, params domain.GenerateParams) {
	start := time.Now()
	defer func() {
		d.limiter.Release(userID)
		jobsInflight.Dec()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("job_id", jobID).Interface("panic", rec).Msg("generation panicked")
			d.fail(jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	gen, err := d.provider.Get()
	if err != nil {
		d.fail(jobID, ErrPipelineUnavailable.Error())
		return
	}

	req := pipeline.Request{
		Prompt:    params.Prompt,
		Height:    params.Height,
		Width:     params.Width,
		Steps:     params.Steps,
		OutputDir: filepath.Join(d.outputDir, userID),
	}
	req.Seed, req.HasSeed = params.SeedValue()

	res, err := gen.Generate(context.Background(), req)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("generation failed")
		d.fail(jobID, err.Error())
		return
	}

	rel, err := filepath.Rel(d.outputDir, res.Path)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("path", res.Path).Msg("artifact outside output root")
		d.fail(jobID, "internal error: artifact misplaced")
		return
	}

	// Register before completing so a completed status never points at an
	// unregistered id.
	publicID := d.artifacts.Register(rel)
	d.jobs.Complete(jobID, publicID, res.Seed)

	jobsCompleted.Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Str("job_id", jobID).
		Str("public_id", publicID).
		Dur("elapsed", time.Since(start)).
		Msg("job completed")
}

// fail records a terminal failure and bumps the failure counter.
func (d *Dispatcher) fail(jobID, msg string) {
	d.jobs.Fail(jobID, msg)
	jobsFailed.Inc()
}
