package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/infernalforge/forge/internal/domain"
	"github.com/infernalforge/forge/internal/pipeline"
	"github.com/infernalforge/forge/internal/ratelimit"
	"github.com/infernalforge/forge/internal/store"
)

// fakeGenerator scripts the pipeline without rendering anything.
type fakeGenerator struct {
	err   error
	panic string
	seed  uint32
}

func (g *fakeGenerator) Generate(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	if g.panic != "" {
		panic(g.panic)
	}
	if g.err != nil {
		return pipeline.Result{}, g.err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return pipeline.Result{}, err
	}
	path := filepath.Join(req.OutputDir, "artifact.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return pipeline.Result{}, err
	}
	seed := req.Seed
	if !req.HasSeed {
		seed = g.seed
	}
	return pipeline.Result{Path: path, Seed: seed}, nil
}

type fixture struct {
	d         *Dispatcher
	limiter   *ratelimit.Limiter
	jobs      *store.JobStore
	artifacts *store.ArtifactRegistry
}

func newFixture(t *testing.T, gen pipeline.Generator) *fixture {
	t.Helper()
	limiter := ratelimit.New(time.Minute, 100, 100, 1000)
	jobs := store.NewJobStore()
	artifacts := store.NewArtifactRegistry()
	provider := pipeline.NewProviderFunc(func() (pipeline.Generator, error) { return gen, nil })
	return &fixture{
		d:         NewDispatcher(limiter, jobs, artifacts, provider, t.TempDir()),
		limiter:   limiter,
		jobs:      jobs,
		artifacts: artifacts,
	}
}

// waitTerminal polls until the job leaves the processing state.
func waitTerminal(t *testing.T, jobs *store.JobStore, jobID string) domain.JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := jobs.Get(jobID); ok && v.Status.Terminal() {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return domain.JobView{}
}

// waitReleased polls until the user's concurrency slot returns to zero.
func waitReleased(t *testing.T, l *ratelimit.Limiter, userID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.Inflight(userID) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("slot for %s never released (inflight=%d)", userID, l.Inflight(userID))
}

func params() domain.GenerateParams {
	return domain.GenerateParams{Prompt: "a red fox", Height: 512, Width: 512, Steps: 50}
}

func TestSubmit_CompletesJob(t *testing.T) {
	f := newFixture(t, &fakeGenerator{seed: 7})
	user := uuid.NewString()

	jobID, err := f.d.Submit(user, params())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := uuid.Parse(jobID); err != nil {
		t.Fatalf("job id is not a uuid: %q", jobID)
	}

	v := waitTerminal(t, f.jobs, jobID)
	if v.Status != domain.StatusCompleted {
		t.Fatalf("status = %q (%s); want completed", v.Status, v.Error)
	}
	if v.Result == nil || v.Result.PublicID == "" {
		t.Fatalf("completed job has no public id: %+v", v.Result)
	}
	if v.Result.Seed != 7 {
		t.Fatalf("seed = %d; want 7", v.Result.Seed)
	}

	// The registry must already know the public id.
	rel, ok := f.artifacts.Resolve(v.Result.PublicID)
	if !ok {
		t.Fatalf("public id %q not registered", v.Result.PublicID)
	}
	if filepath.IsAbs(rel) {
		t.Fatalf("registry stored an absolute path: %q", rel)
	}
	if filepath.Dir(rel) != user {
		t.Fatalf("artifact not under the user directory: %q", rel)
	}

	waitReleased(t, f.limiter, user)
}

func TestSubmit_ExplicitSeedWins(t *testing.T) {
	f := newFixture(t, &fakeGenerator{seed: 999})
	user := uuid.NewString()

	p := params()
	s := int64(1234)
	p.Seed = &s

	jobID, err := f.d.Submit(user, p)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v := waitTerminal(t, f.jobs, jobID)
	if v.Result == nil || v.Result.Seed != 1234 {
		t.Fatalf("result = %+v; want seed 1234", v.Result)
	}
}

func TestSubmit_GeneratorError_FailsJobAndReleases(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: errors.New("out of memory")})
	user := uuid.NewString()

	jobID, err := f.d.Submit(user, params())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v := waitTerminal(t, f.jobs, jobID)
	if v.Status != domain.StatusFailed {
		t.Fatalf("status = %q; want failed", v.Status)
	}
	if v.Error != "out of memory" {
		t.Fatalf("error = %q", v.Error)
	}
	if v.Result != nil {
		t.Fatalf("failed job carries a result")
	}
	waitReleased(t, f.limiter, user)
}

func TestSubmit_GeneratorPanic_FailsJobAndReleases(t *testing.T) {
	f := newFixture(t, &fakeGenerator{panic: "boom"})
	user := uuid.NewString()

	jobID, err := f.d.Submit(user, params())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v := waitTerminal(t, f.jobs, jobID)
	if v.Status != domain.StatusFailed {
		t.Fatalf("status = %q; want failed", v.Status)
	}
	waitReleased(t, f.limiter, user)
}

func TestSubmit_PipelineUnavailable_FailsJob(t *testing.T) {
	limiter := ratelimit.New(time.Minute, 100, 100, 1000)
	jobs := store.NewJobStore()
	provider := pipeline.NewProviderFunc(func() (pipeline.Generator, error) {
		return nil, errors.New("no device")
	})
	d := NewDispatcher(limiter, jobs, store.NewArtifactRegistry(), provider, t.TempDir())
	user := uuid.NewString()

	jobID, err := d.Submit(user, params())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v := waitTerminal(t, jobs, jobID)
	if v.Status != domain.StatusFailed {
		t.Fatalf("status = %q; want failed", v.Status)
	}
	if v.Error != ErrPipelineUnavailable.Error() {
		t.Fatalf("error = %q; want %q", v.Error, ErrPipelineUnavailable.Error())
	}
	waitReleased(t, limiter, user)
}

func TestSubmit_AdmissionDenied_NoJobNoSlot(t *testing.T) {
	limiter := ratelimit.New(time.Minute, 1, 1, 1000)
	jobs := store.NewJobStore()
	// Generator that blocks so the first job holds its slot.
	block := make(chan struct{})
	gen := blockingGenerator{release: block}
	provider := pipeline.NewProviderFunc(func() (pipeline.Generator, error) { return gen, nil })
	d := NewDispatcher(limiter, jobs, store.NewArtifactRegistry(), provider, t.TempDir())
	user := uuid.NewString()

	if _, err := d.Submit(user, params()); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err := d.Submit(user, params())
	if !ratelimit.IsDenied(err) {
		t.Fatalf("second Submit = %v; want admission denial", err)
	}
	if jobs.Len() != 1 {
		t.Fatalf("denied submit created a job")
	}
	if got := limiter.Inflight(user); got != 1 {
		t.Fatalf("inflight = %d; want 1", got)
	}

	close(block)
	waitReleased(t, limiter, user)
}

type blockingGenerator struct{ release chan struct{} }

func (g blockingGenerator) Generate(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	<-g.release
	return pipeline.Result{}, errors.New("released")
}
