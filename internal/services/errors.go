// Package services implements the asynchronous job lifecycle: admission,
// dispatch to the generation pipeline, and recording of outcomes. This file
// centralizes service-level error values so callers can translate them to
// HTTP results consistently.
package services

import "errors"

var (
	// ErrJobNotFound indicates that the requested job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrArtifactNotFound indicates that a public artifact id is not
	// registered or its file is missing on disk.
	ErrArtifactNotFound = errors.New("image not found")

	// ErrPipelineUnavailable is returned when the generation pipeline could
	// not be constructed; the worker reports unhealthy while this persists.
	ErrPipelineUnavailable = errors.New("generation pipeline unavailable")
)
