package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiProvider relays chat and file operations to the Gemini API.
type GeminiProvider struct {
	http    *http.Client
	baseURL string
}

// NewGeminiProvider creates the adapter with the shared HTTP client.
func NewGeminiProvider(httpClient *http.Client) *GeminiProvider {
	return &GeminiProvider{http: httpClient, baseURL: geminiBaseURL}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (p *GeminiProvider) SendChat(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	payload := struct {
		Contents          []geminiContent `json:"contents"`
		SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	}{}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(req.Model), url.QueryEscape(apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(ProviderGemini, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		ModelVersion string `json:"modelVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty candidates", ErrProviderRequest)
	}

	var text string
	for _, part := range decoded.Candidates[0].Content.Parts {
		text += part.Text
	}
	return &ChatResponse{Text: text, Model: decoded.ModelVersion}, nil
}

func (p *GeminiProvider) UploadFile(ctx context.Context, apiKey string, f FileUpload) (string, error) {
	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", p.baseURL, url.QueryEscape(apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(f.Data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", f.ContentType)
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")
	httpReq.Header.Set("X-Goog-File-Name", f.Name)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstreamError(ProviderGemini, resp.StatusCode, drainBody(resp.Body))
	}

	var decoded struct {
		File struct {
			Name string `json:"name"` // e.g. files/abc-123
		} `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderRequest, err)
	}
	return decoded.File.Name, nil
}

func (p *GeminiProvider) DeleteFile(ctx context.Context, apiKey, fileID string) error {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", p.baseURL, fileID, url.QueryEscape(apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamError(ProviderGemini, resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}
