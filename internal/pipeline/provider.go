package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Provider constructs the process-wide Generator at most once. Startup warms
// it eagerly; a first request racing the startup path goes through the same
// sync.Once and is safe. Construction errors are sticky: every later Get
// reports the same failure, which health checks surface as unhealthy.
type Provider struct {
	warmup time.Duration
	build  func() (Generator, error)

	once sync.Once
	gen  Generator
	err  error
}

// NewProvider returns a Provider that builds the default Renderer with the
// given generation-time floor after simulating warmup model load time.
func NewProvider(warmup, minDuration time.Duration) *Provider {
	return &Provider{
		warmup: warmup,
		build: func() (Generator, error) {
			return NewRenderer(minDuration), nil
		},
	}
}

// NewProviderFunc returns a Provider around a custom constructor (tests,
// alternate generators).
func NewProviderFunc(build func() (Generator, error)) *Provider {
	return &Provider{build: build}
}

// Get returns the shared Generator, constructing it on first call.
func (p *Provider) Get() (Generator, error) {
	p.once.Do(func() {
		start := time.Now()
		if p.warmup > 0 {
			time.Sleep(p.warmup)
		}
		p.gen, p.err = p.build()
		if p.err != nil {
			log.Error().Err(p.err).Msg("pipeline initialization failed")
			return
		}
		log.Info().Dur("elapsed", time.Since(start)).Msg("pipeline initialized")
	})
	return p.gen, p.err
}

// Ready reports whether the pipeline is constructed and usable. It triggers
// construction if that has not happened yet, so a health probe doubles as a
// warmup request.
func (p *Provider) Ready() error {
	_, err := p.Get()
	return err
}
