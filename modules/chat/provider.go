package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider is the opaque relay interface to one LLM vendor. Implementations
// translate the unified request into the vendor's wire shape and back;
// nothing vendor-specific leaks past this boundary.
type Provider interface {
	// SendChat relays a completion request using the caller's API key.
	SendChat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error)

	// UploadFile relays a file and returns the vendor's file id.
	UploadFile(ctx context.Context, apiKey string, f FileUpload) (string, error)

	// DeleteFile removes a previously uploaded file at the vendor.
	DeleteFile(ctx context.Context, apiKey, fileID string) error
}

// Registry maps provider ids to adapters.
type Registry map[ProviderID]Provider

// DefaultRegistry wires the three production adapters sharing one HTTP
// client with a request timeout.
func DefaultRegistry(timeout time.Duration) Registry {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return Registry{
		ProviderOpenAI:    NewOpenAIProvider(httpClient),
		ProviderGemini:    NewGeminiProvider(httpClient),
		ProviderAnthropic: NewAnthropicProvider(httpClient),
	}
}

// drainBody reads a capped error body for diagnostics.
func drainBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return string(b)
}

func upstreamError(provider ProviderID, status int, body string) error {
	return fmt.Errorf("%w: %s returned %d: %s", ErrProviderRequest, provider, status, body)
}
