package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider relays chat and file operations to the OpenAI API.
type OpenAIProvider struct {
	http    *http.Client
	baseURL string
}

// NewOpenAIProvider creates the adapter with the shared HTTP client.
func NewOpenAIProvider(httpClient *http.Client) *OpenAIProvider {
	return &OpenAIProvider{http: httpClient, baseURL: openAIBaseURL}
}

func (p *OpenAIProvider) SendChat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(ProviderOpenAI, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrProviderRequest)
	}

	return &ChatResponse{Text: decoded.Choices[0].Message.Content, Model: decoded.Model}, nil
}

func (p *OpenAIProvider) UploadFile(ctx context.Context, apiKey string, f FileUpload) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
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
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstreamError(ProviderOpenAI, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}
	return decoded.ID, nil
}

func (p *OpenAIProvider) DeleteFile(ctx context.Context, apiKey, fileID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamError(ProviderOpenAI, resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}
