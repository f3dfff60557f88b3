package port

import "context"

// LLM represents a language model for text generation.
type LLM interface {
	// Generate returns the text content of the model's reply to prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
