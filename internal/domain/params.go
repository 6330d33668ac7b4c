// Package domain defines the core data model of the service: generation
// request parameters with their validation rules, and the job lifecycle
// record. Both tiers validate with this package so the rules cannot drift
// between the public surface and the worker.
package domain

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Parameter bounds. These mirror the limits enforced on the wire: prompts are
// capped and restricted to a conservative character set, dimensions and step
// counts live in fixed ranges, seeds fit in 32 bits.
const (
	MaxPromptLength = 200
	MinDimension    = 64
	MaxDimension    = 1024
	MinSteps        = 1
	MaxSteps        = 100
	MaxSeed         = math.MaxUint32
)

// promptRE is the set of characters a prompt may contain after normalization.
var promptRE = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.,!?()]+$`)

// Validation errors. Messages are user-facing and returned verbatim in 400
// responses.
var (
	ErrPromptRequired = errors.New("Prompt is required")
	ErrPromptTooLong  = fmt.Errorf("Prompt too long (max %d characters)", MaxPromptLength)
	ErrPromptCharset  = errors.New("Prompt contains invalid characters")
	ErrDimensions     = fmt.Errorf("Dimensions must be between %d and %d", MinDimension, MaxDimension)
	ErrSteps          = fmt.Errorf("Steps must be between %d and %d", MinSteps, MaxSteps)
	ErrSeedRange      = errors.New("Invalid seed value")
	ErrUserIDRequired = errors.New("User ID is required")
	ErrUserIDFormat   = errors.New("Invalid user ID format")
)

// GenerateParams carries one generation request. Height, width and steps use
// zero to mean "not provided"; Normalize substitutes the configured defaults
// before validation.
type GenerateParams struct {
	Prompt string `json:"prompt"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
	Steps  int    `json:"num_inference_steps,omitempty"`
	// Seed is optional; when nil the pipeline picks a random 32-bit seed.
	// int64 rather than uint32 so out-of-range values fail validation with a
	// clear message instead of a JSON unmarshal error.
	Seed *int64 `json:"seed,omitempty"`
}

// Normalize trims and NFC-normalizes the prompt and fills unset numeric
// fields with the given defaults. Call before Validate.
func (p *GenerateParams) Normalize(defaultHeight, defaultWidth, defaultSteps int) {
	p.Prompt = norm.NFC.String(strings.TrimSpace(p.Prompt))
	if p.Height == 0 {
		p.Height = defaultHeight
	}
	if p.Width == 0 {
		p.Width = defaultWidth
	}
	if p.Steps == 0 {
		p.Steps = defaultSteps
	}
}

// Validate checks every field against the documented bounds and returns the
// first violation. A nil return means the parameters are safe to admit.
func (p *GenerateParams) Validate() error {
	if p.Prompt == "" {
		return ErrPromptRequired
	}
	if len(p.Prompt) > MaxPromptLength {
		return ErrPromptTooLong
	}
	if !promptRE.MatchString(p.Prompt) {
		return ErrPromptCharset
	}
	if p.Height < MinDimension || p.Height > MaxDimension ||
		p.Width < MinDimension || p.Width > MaxDimension {
		return ErrDimensions
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return ErrSteps
	}
	if p.Seed != nil && (*p.Seed < 0 || *p.Seed > MaxSeed) {
		return ErrSeedRange
	}
	return nil
}

// SeedValue returns the explicit seed and true, or zero and false when the
// caller left it unset.
func (p *GenerateParams) SeedValue() (uint32, bool) {
	if p.Seed == nil {
		return 0, false
	}
	return uint32(*p.Seed), true
}

// ValidateUserID checks the worker-side user identifier: required, and must
// be a UUID so it is safe to use as a directory name under the output root.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrUserIDRequired
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrUserIDFormat
	}
	return nil
}

// IsValidationError reports whether err is one of this package's validation
// errors, i.e. a client fault rather than a server one.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrPromptRequired),
		errors.Is(err, ErrPromptTooLong),
		errors.Is(err, ErrPromptCharset),
		errors.Is(err, ErrDimensions),
		errors.Is(err, ErrSteps),
		errors.Is(err, ErrSeedRange),
		errors.Is(err, ErrUserIDRequired),
		errors.Is(err, ErrUserIDFormat):
		return true
	}
	return false
}
