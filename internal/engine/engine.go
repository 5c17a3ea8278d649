package engine

import "context"

// Options carries the sampling parameters for a single generation call.
// Zero values mean "backend default".
type Options struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	NumPredict    int
	NumCtx        int
}

// Engine abstracts an inference backend (local Ollama or a remote
// OpenAI-compatible server). Generation, refinement, summarization and
// embedding all go through this interface so tests can swap in a
// deterministic stub.
type Engine interface {
	// Generate sends a raw prompt to the given model and returns the
	// completion text.
	Generate(ctx context.Context, model, prompt string, opts Options) (string, error)

	// Embed returns the embedding vector for the given text using the
	// specified model.
	Embed(ctx context.Context, model, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all models available on the backend.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool
}
