package generator

import (
	"context"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
)

var _ adapter.Dispatcher = (*Dispatch)(nil)

type routeKey struct {
	modelKey string
	mode     model.GenerationMode
}

type route struct {
	provider string
	fn       adapter.SubmitFunc
}

// Dispatch maps (model key, generation mode) pairs to submit functions.
// Adding a model is one Register call in the composition root, not a new
// adapter type.
type Dispatch struct {
	routes map[routeKey]route
}

func NewDispatch() *Dispatch {
	return &Dispatch{routes: make(map[routeKey]route)}
}

func (d *Dispatch) Register(modelKey string, mode model.GenerationMode, provider string, fn adapter.SubmitFunc) {
	d.routes[routeKey{modelKey: modelKey, mode: mode}] = route{provider: provider, fn: fn}
}

func (d *Dispatch) Resolve(modelKey string, mode model.GenerationMode) (string, adapter.SubmitFunc, bool) {
	r, ok := d.routes[routeKey{modelKey: modelKey, mode: mode}]
	if !ok {
		return "", nil, false
	}
	return r.provider, r.fn, true
}

// predictionPayload builds the request body for prediction-style providers.
// Only set parameters are sent; upstreams reject unknown nulls.
func predictionPayload(in adapter.SubmitInput) map[string]interface{} {
	p := map[string]interface{}{"prompt": in.Prompt}
	if in.Size != "" && in.Size != "auto" {
		p["size"] = in.Size
	}
	if in.AspectRatio != "" {
		p["aspect_ratio"] = in.AspectRatio
	}
	if in.Resolution != "" {
		p["resolution"] = in.Resolution
	}
	if in.Quality != "" {
		p["quality"] = in.Quality
	}
	if in.InputFidelity != "" {
		p["input_fidelity"] = in.InputFidelity
	}
	if len(in.ReferenceURLs) > 0 {
		p["images"] = in.ReferenceURLs
	}
	return p
}

// PredictionSubmit builds a SubmitFunc that POSTs to one model path on the
// prediction gateway.
func PredictionSubmit(c *Client, modelPath string) adapter.SubmitFunc {
	return func(ctx context.Context, in adapter.SubmitInput) (*adapter.Submission, error) {
		return c.Submit(ctx, modelPath, predictionPayload(in))
	}
}

// DefaultRoutes wires the stock model catalog onto one prediction client.
func DefaultRoutes(c *Client) *Dispatch {
	d := NewDispatch()
	register := func(key, path string, modes ...model.GenerationMode) {
		for _, m := range modes {
			d.Register(key, m, "wavespeed", PredictionSubmit(c, path))
		}
	}
	register("seedream-v4", "bytedance/seedream-v4", model.ModeTextToImage)
	register("seedream-v4", "bytedance/seedream-v4-edit", model.ModeImageToImage)
	register("nano-banana-pro", "google/nano-banana-pro/text-to-image", model.ModeTextToImage)
	register("nano-banana-pro", "google/nano-banana-pro/edit", model.ModeImageToImage)
	register("gpt-image-1.5", "openai/gpt-image-1.5/text-to-image", model.ModeTextToImage)
	register("gpt-image-1.5", "openai/gpt-image-1.5/edit", model.ModeImageToImage)
	register("flux-dev", "wavespeed-ai/flux-dev", model.ModeTextToImage)
	return d
}
