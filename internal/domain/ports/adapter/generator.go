// File: internal/domain/ports/adapter/generator.go
package adapter

import (
	"context"

	"telegram-image-generation/internal/domain/model"
)

// SubmitInput is everything a provider needs to start one generation.
type SubmitInput struct {
	Prompt        string
	Size          string
	AspectRatio   string
	Resolution    string
	Quality       string
	InputFidelity string
	ReferenceURLs []string
}

// Submission is the upstream's answer to a submit call. Outputs is non-empty
// only for providers that render synchronously; the gateway then skips the
// poller entirely.
type Submission struct {
	JobID   string
	Outputs []string
}

// Prediction is one poll snapshot of an upstream job.
type Prediction struct {
	Status  string // "created" | "queued" | "running" | "completed" | "failed" | ""
	Outputs []string
	Error   string
}

// SubmitFunc starts one generation on a provider. The dispatcher holds one
// per (model key, mode) pair; there is no provider class hierarchy.
type SubmitFunc func(ctx context.Context, in SubmitInput) (*Submission, error)

// Dispatcher resolves the provider call path for an admission.
type Dispatcher interface {
	// Resolve returns the provider name and submit function for the pair, or
	// ok=false when no path is registered.
	Resolve(modelKey string, mode model.GenerationMode) (provider string, fn SubmitFunc, ok bool)
}

// ProviderClient is the polling and accounting side of the upstream contract.
type ProviderClient interface {
	GetPrediction(ctx context.Context, upstreamID string) (*Prediction, error)
	Balance(ctx context.Context) (float64, error)
}
