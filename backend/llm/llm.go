package llm

import "context"

// Client abstracts a vision-capable LLM provider used by the verifier.
// Implementations must be concurrency-safe: verifications run in parallel
// goroutines.
type Client interface {
	// AnalyzeImage sends the prompt and the image and returns the raw text
	// of the first answer.
	AnalyzeImage(ctx context.Context, imageData []byte, mimeType, prompt string) (string, error)
	// SourceName returns a short provider label stored with each result (e.g., "Gemini").
	SourceName() string
}
