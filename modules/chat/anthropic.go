package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion   = "2023-06-01"
	anthropicFilesBeta = "files-api-2025-04-14"
	anthropicMaxTokens = 4096
)

// AnthropicProvider relays chat and file operations to the Anthropic API.
type AnthropicProvider struct {
	http    *http.Client
	baseURL string
}

// NewAnthropicProvider creates the adapter with the shared HTTP client.
func NewAnthropicProvider(httpClient *http.Client) *AnthropicProvider {
	return &AnthropicProvider{http: httpClient, baseURL: anthropicBaseURL}
}

func (p *AnthropicProvider) SendChat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	// System turns ride in a dedicated field, not the messages array.
	var system string
	messages := make([]ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	payload := map[string]any{
		"model":      req.Model,
		"max_tokens": anthropicMaxTokens,
		"messages":   messages,
	}
	if system != "" {
		payload["system"] = system
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(ProviderAnthropic, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}

	var text string
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: no text content", ErrProviderRequest)
	}
	return &ChatResponse{Text: text, Model: decoded.Model}, nil
}

func (p *AnthropicProvider) UploadFile(ctx context.Context, apiKey string, f FileUpload) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	p.setHeaders(httpReq, apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstreamError(ProviderAnthropic, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}
	return decoded.ID, nil
}

func (p *AnthropicProvider) DeleteFile(ctx context.Context, apiKey, fileID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return err
	}
	p.setHeaders(httpReq, apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamError(ProviderAnthropic, resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}

func (p *AnthropicProvider) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", anthropicFilesBeta)
}
