// Package pipeline is the narrow interface to the expensive compute step.
// The rest of the service only knows that a Generator takes bounded-but-long
// wall-clock time, holds the single physical execution slot while it runs,
// and eventually yields an artifact file plus the seed it used, or an error.
//
// The built-in implementation renders a deterministic procedural image, a
// stand-in with the same contract and timing shape as a real diffusion
// pipeline, which runs out of process in production deployments.
package pipeline

import "context"

// Request carries one generation task into the pipeline. All fields are
// validated upstream; the pipeline trusts them.
type Request struct {
	Prompt string
	Height int
	Width  int
	Steps  int

	// Seed, when HasSeed, pins the generation; otherwise the generator
	// draws a random 32-bit seed and reports it in the Result.
	Seed    uint32
	HasSeed bool

	// OutputDir is the directory the artifact is written into (the caller's
	// per-user directory under the output root).
	OutputDir string
}

// Result describes a produced artifact.
type Result struct {
	// Path is the absolute location of the written file.
	Path string
	// Seed is the seed actually used, for reproducibility.
	Seed uint32
}

// Generator produces one artifact per call. Implementations serialize
// physical execution internally: any number of calls may be in flight, but
// only one generation runs at a time. Generate blocks until the artifact is
// written or the context is cancelled.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
