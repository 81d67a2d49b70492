package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
	"github.com/dmitrymomot/chatrelay/pkg/secrets"
)

// Config holds chat relay settings.
type Config struct {
	KeySecret       string        `env:"CHAT_KEY_SECRET,required"`                    // encrypts stored provider API keys
	ProviderTimeout time.Duration `env:"CHAT_PROVIDER_TIMEOUT" envDefault:"60s"`
	MaxUploadBytes  int64         `env:"CHAT_MAX_UPLOAD_BYTES" envDefault:"26214400"` // 25 MiB
	HistoryLimit    int           `env:"CHAT_HISTORY_LIMIT" envDefault:"40"`          // turns replayed to the provider
}

// Service relays completions to the user's chosen vendor using the user's
// own API key, and persists the conversation transcript locally.
type Service struct {
	store     Store
	providers Registry
	vault     *secrets.Cipher
	log       *slog.Logger
	cfg       Config
}

// NewService creates a chat Service. Panics on nil required dependencies.
func NewService(store Store, providers Registry, vault *secrets.Cipher, log *slog.Logger, cfg Config) *Service {
	if store == nil {
		panic("chat: Store is required")
	}
	if len(providers) == 0 {
		panic("chat: provider Registry is required")
	}
	if vault == nil {
		panic("chat: secrets Cipher is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, providers: providers, vault: vault, log: log, cfg: cfg}
}

// SetProviderKey stores the user's API key for a vendor, encrypted at rest.
func (s *Service) SetProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID, apiKey string) error {
	if !validProvider(provider) {
		return ErrUnknownProvider
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrNoAPIKey
	}
	sealed, err := s.vault.EncryptString(apiKey)
	if err != nil {
		return err
	}
	return s.store.UpsertProviderKey(ctx, &ProviderKey{
		UserID:    userID,
		Provider:  provider,
		APIKey:    sealed,
		UpdatedAt: time.Now().UTC(),
	})
}

// providerKey loads and opens the user's API key for a vendor.
func (s *Service) providerKey(ctx context.Context, userID uuid.UUID, provider ProviderID) (string, error) {
	key, err := s.store.FindProviderKey(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	return s.vault.DecryptString(key.APIKey)
}

// DeleteProviderKey removes the user's API key for a vendor.
func (s *Service) DeleteProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID) error {
	if !validProvider(provider) {
		return ErrUnknownProvider
	}
	return s.store.DeleteProviderKey(ctx, userID, provider)
}

// CompletionInput describes one relayed user turn. A zero ConversationID
// starts a new conversation.
type CompletionInput struct {
	ConversationID uuid.UUID
	Provider       ProviderID
	Model          string
	Content        string
}

// CompletionResult is the relayed reply plus the conversation it landed in.
type CompletionResult struct {
	ConversationID uuid.UUID
	Reply          Message
}

// SendCompletion relays one user turn: resolves or creates the conversation,
// replays recent history to the vendor with the user's key, and persists
// both the user turn and the reply.
func (s *Service) SendCompletion(ctx context.Context, userID uuid.UUID, in CompletionInput) (*CompletionResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.resolveConversation(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	provider, ok := s.providers[conv.Provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	apiKey, err := s.providerKey(ctx, userID, conv.Provider)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	turns := make([]ChatMessage, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, ChatMessage{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, ChatMessage{Role: RoleUser, Content: in.Content})

	model := in.Model
	if model == "" {
		model = conv.Model
	}
	resp, err := provider.SendChat(ctx, apiKey, ChatRequest{Model: model, Messages: turns})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	userMsg := &Message{
		ID: uuid.New(), ConversationID: conv.ID,
		Role: RoleUser, Content: in.Content, CreatedAt: now,
	}
	reply := &Message{
		ID: uuid.New(), ConversationID: conv.ID,
		Role: RoleAssistant, Content: resp.Text, CreatedAt: now.Add(time.Millisecond),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		s.log.WarnContext(ctx, "failed to touch conversation",
			"conversation_id", conv.ID, logger.Error(err))
	}

	return &CompletionResult{ConversationID: conv.ID, Reply: *reply}, nil
}

func (s *Service) resolveConversation(ctx context.Context, userID uuid.UUID, in CompletionInput) (*Conversation, error) {
	if in.ConversationID != uuid.Nil {
		return s.store.FindConversation(ctx, userID, in.ConversationID)
	}

	if !validProvider(in.Provider) {
		return nil, ErrUnknownProvider
	}
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     titleFrom(in.Content),
		Provider:  in.Provider,
		Model:     in.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// GetConversation returns one conversation with its full transcript.
func (s *Service) GetConversation(ctx context.Context, userID, convID uuid.UUID) (*Conversation, []Message, error) {
	conv, err := s.store.FindConversation(ctx, userID, convID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, convID)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, userID, convID uuid.UUID) error {
	return s.store.DeleteConversation(ctx, userID, convID)
}

// UploadFile relays a file to the vendor with the user's key and records it.
func (s *Service) UploadFile(ctx context.Context, userID uuid.UUID, provider ProviderID, f FileUpload) (*StoredFile, error) {
	if !validProvider(provider) {
		return nil, ErrUnknownProvider
	}
	apiKey, err := s.providerKey(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	providerFileID, err := s.providers[provider].UploadFile(ctx, apiKey, f)
	if err != nil {
		return nil, err
	}

	rec := &StoredFile{
		ID:             uuid.New(),
		UserID:         userID,
		Provider:       provider,
		ProviderFileID: providerFileID,
		Name:           f.Name,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateFile(ctx, rec); err != nil {
		// The vendor copy is orphaned; try to clean it up before failing.
		if delErr := s.providers[provider].DeleteFile(ctx, apiKey, providerFileID); delErr != nil {
			s.log.WarnContext(ctx, "failed to clean up orphaned provider file",
				"provider", provider, "provider_file_id", providerFileID, logger.Error(delErr))
		}
		return nil, err
	}
	return rec, nil
}

// DeleteFile removes the vendor copy and the local record.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID uuid.UUID) error {
	rec, err := s.store.FindFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	apiKey, err := s.providerKey(ctx, userID, rec.Provider)
	if err != nil {
		return err
	}
	if err := s.providers[rec.Provider].DeleteFile(ctx, apiKey, rec.ProviderFileID); err != nil {
		return err
	}
	return s.store.DeleteFile(ctx, userID, fileID)
}

func titleFrom(content string) string {
	title := strings.TrimSpace(content)
	// Cut on a rune boundary so a multi-byte character is never split.
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	return title
}
