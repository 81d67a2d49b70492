package chat

import (
	"time"

	"github.com/google/uuid"
)

// ProviderID identifies an LLM vendor.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderGemini    ProviderID = "gemini"
	ProviderAnthropic ProviderID = "anthropic"
)

// KnownProviders lists every supported vendor.
func KnownProviders() []ProviderID {
	return []ProviderID{ProviderOpenAI, ProviderGemini, ProviderAnthropic}
}

func validProvider(p ProviderID) bool {
	switch p {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
		return true
	default:
		return false
	}
}

// Role of a chat message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn of a conversation in the unified shape relayed to
// every provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a unified completion request.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

// ChatResponse is a unified completion result.
type ChatResponse struct {
	Text  string
	Model string
}

// Conversation groups messages for a user against one provider and model.
type Conversation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	Provider  ProviderID
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a persisted conversation turn.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	CreatedAt      time.Time
}

// ProviderKey is a user's stored API key for one vendor. Keys are write-only
// through the API; they are returned to providers, never to clients.
type ProviderKey struct {
	UserID    uuid.UUID
	Provider  ProviderID
	APIKey    string
	UpdatedAt time.Time
}

// FileUpload is an inbound file relayed to a provider.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// StoredFile records a file relayed to a provider on the user's behalf,
// keyed locally but carrying the provider's file id for later deletion.
type StoredFile struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Provider       ProviderID
	ProviderFileID string
	Name           string
	CreatedAt      time.Time
}
