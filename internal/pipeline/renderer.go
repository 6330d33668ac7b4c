package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// unsafeFilenameRE strips characters that are not safe in artifact
// filenames derived from the prompt.
var unsafeFilenameRE = regexp.MustCompile(`[<>:"/\\|?*(){}]`)

// Renderer is the built-in Generator: a deterministic procedural image
// synthesizer. The same seed and parameters always produce the same pixels,
// so seeds behave the way clients expect from a real model. A mutex
// serializes execution: the renderer is the single physical compute slot.
type Renderer struct {
	// MinDuration floors the wall-clock time of one generation so the
	// asynchronous job machinery sees realistic timing. Zero disables the
	// floor (tests).
	MinDuration time.Duration

	mu sync.Mutex
}

// NewRenderer returns a Renderer with the given generation-time floor.
func NewRenderer(minDuration time.Duration) *Renderer {
	return &Renderer{MinDuration: minDuration}
}

// Generate renders req into a PNG under req.OutputDir and returns its
// absolute path and the seed used. Only one call executes at a time; others
// block on the internal mutex. The context is honored while waiting out the
// duration floor.
func (r *Renderer) Generate(ctx context.Context, req Request) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	seed := req.Seed
	if !req.HasSeed {
		seed = rand.Uint32()
	}

	start := time.Now()
	log.Info().Uint32("seed", seed).Int("steps", req.Steps).Msg("starting image generation")

	img := render(seed, req.Width, req.Height, req.Steps)

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(req.OutputDir, artifactFilename(req.Prompt, time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("creating artifact file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return Result{}, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("closing artifact file: %w", err)
	}

	// Hold the slot until the duration floor passes, like a model that
	// cannot finish faster than its step schedule.
	if remain := r.MinDuration - time.Since(start); remain > 0 {
		select {
		case <-time.After(remain):
		case <-ctx.Done():
			os.Remove(path)
			return Result{}, ctx.Err()
		}
	}

	log.Info().
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("image generation completed")

	return Result{Path: path, Seed: seed}, nil
}

// render synthesizes a plasma-like field from the seed. Steps scales how
// many octaves are layered, so higher step counts yield busier images.
func render(seed uint32, width, height, steps int) image.Image {
	rng := rand.New(rand.NewSource(int64(seed)))

	octaves := 2 + steps/20
	type wave struct{ fx, fy, phase, amp float64 }
	waves := make([]wave, octaves)
	for i := range waves {
		waves[i] = wave{
			fx:    rng.Float64() * 12,
			fy:    rng.Float64() * 12,
			phase: rng.Float64() * 2 * math.Pi,
			amp:   1 / float64(i+1),
		}
	}
	baseR := rng.Float64() * 2 * math.Pi
	baseG := rng.Float64() * 2 * math.Pi
	baseB := rng.Float64() * 2 * math.Pi

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		fy := float64(y) / float64(height)
		for x := 0; x < width; x++ {
			fx := float64(x) / float64(width)
			v := 0.0
			for _, w := range waves {
				v += w.amp * math.Sin(w.fx*fx+w.fy*fy*math.Pi+w.phase)
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: channel(v + baseR),
				G: channel(v + baseG),
				B: channel(v + baseB),
				A: 0xff,
			})
		}
	}
	return img
}

// channel maps a wave sample to an 8-bit color channel.
func channel(v float64) uint8 {
	return uint8((math.Sin(v) + 1) / 2 * 255)
}

// artifactFilename builds "<sanitized-prompt>-<timestamp>.png" from the
// first few characters of the prompt.
func artifactFilename(prompt string, now time.Time) string {
	head := prompt
	if len(head) > 10 {
		head = head[:10]
	}
	head = unsafeFilenameRE.ReplaceAllString(head, "")
	head = strings.ReplaceAll(head, " ", "_")
	if head == "" {
		head = "image"
	}
	return fmt.Sprintf("%s-%s.png", head, now.Format("20060102-150405.000"))
}
