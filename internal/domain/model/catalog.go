package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"telegram-image-generation/internal/domain"
)

// Capabilities describes which request parameters a model understands.
type Capabilities struct {
	TextToImage  bool
	ImageToImage bool
	AspectRatio  bool
	Size         bool
	Resolution   bool
	Quality      bool
	Reference    bool
}

// Model is a catalog entry for one upstream image model.
type Model struct {
	ID           string
	Key          string // stable key, e.g. "seedream-v4"
	DisplayName  string
	Provider     string
	Caps         Capabilities
	AspectRatios []string
	Sizes        []string
	Resolutions  []string
	Qualities    []string
	IsActive     bool
	CreatedAt    time.Time
}

// ModelPrice is one stored unit price for a model, in credits.
type ModelPrice struct {
	ID        string
	ModelID   string
	Credits   int64
	IsActive  bool
	CreatedAt time.Time
}

// GenerationMode selects the provider call path together with the model key.
type GenerationMode string

const (
	ModeTextToImage  GenerationMode = "text_to_image"
	ModeImageToImage GenerationMode = "image_to_image"
)

const (
	minSideLength = 1024
	maxSideLength = 4096
)

// ValidateSize accepts "auto" or "WxH"/"W*H" with both sides in [1024, 4096].
func ValidateSize(size string) error {
	if size == "" || size == "auto" {
		return nil
	}
	sep := "x"
	if strings.Contains(size, "*") {
		sep = "*"
	}
	parts := strings.SplitN(size, sep, 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: size %q", domain.ErrParameterInvalid, size)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < minSideLength || n > maxSideLength {
			return fmt.Errorf("%w: size %q", domain.ErrParameterInvalid, size)
		}
	}
	return nil
}

func contains(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}

// ValidateParams checks a normalized parameter set against model capabilities
// and enumerated option sets. Unsupported parameters fail before invalid ones.
func (m *Model) ValidateParams(p *GenerationParams) error {
	if p.Size != "" {
		if !m.Caps.Size {
			return fmt.Errorf("%w: size", domain.ErrParameterNotSupported)
		}
		if err := ValidateSize(p.Size); err != nil {
			return err
		}
		if len(m.Sizes) > 0 && p.Size != "auto" && !contains(m.Sizes, p.Size) {
			return fmt.Errorf("%w: size %q", domain.ErrParameterInvalid, p.Size)
		}
	}
	if p.AspectRatio != "" {
		if !m.Caps.AspectRatio {
			return fmt.Errorf("%w: aspect_ratio", domain.ErrParameterNotSupported)
		}
		if len(m.AspectRatios) > 0 && !contains(m.AspectRatios, p.AspectRatio) {
			return fmt.Errorf("%w: aspect_ratio %q", domain.ErrParameterInvalid, p.AspectRatio)
		}
	}
	if p.Resolution != "" {
		if !m.Caps.Resolution {
			return fmt.Errorf("%w: resolution", domain.ErrParameterNotSupported)
		}
		if len(m.Resolutions) > 0 && !contains(m.Resolutions, p.Resolution) {
			return fmt.Errorf("%w: resolution %q", domain.ErrParameterInvalid, p.Resolution)
		}
	}
	if p.Quality != "" {
		if !m.Caps.Quality {
			return fmt.Errorf("%w: quality", domain.ErrParameterNotSupported)
		}
		if len(m.Qualities) > 0 && !contains(m.Qualities, p.Quality) {
			return fmt.Errorf("%w: quality %q", domain.ErrParameterInvalid, p.Quality)
		}
	}
	if p.InputFidelity != "" && !m.Caps.ImageToImage {
		return fmt.Errorf("%w: input_fidelity", domain.ErrParameterNotSupported)
	}
	return nil
}

// Normalization rewrites one request parameter into another for a specific
// model, before capability validation runs. The table is data, not code, so
// new model quirks do not require touching the gateway.
type Normalization struct {
	ModelKey string
	From     string
	To       string
}

// Normalizations is the default rewrite table. seedream-v4 advertises
// resolution but not size, while callers coming from generic UIs send size.
var Normalizations = []Normalization{
	{ModelKey: "seedream-v4", From: "size", To: "resolution"},
}

// Normalize applies the rewrite table to the parameter set in place.
func (m *Model) Normalize(p *GenerationParams) {
	for _, n := range Normalizations {
		if n.ModelKey != m.Key {
			continue
		}
		if n.From == "size" && n.To == "resolution" && p.Size != "" && !m.Caps.Size && m.Caps.Resolution {
			p.Resolution = p.Size
			p.Size = ""
		}
	}
}
