package chat

import "errors"

var (
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrNoAPIKey             = errors.New("no API key stored for provider")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrFileNotFound         = errors.New("file not found")
	ErrEmptyMessage         = errors.New("message content is empty")

	// ErrProviderRequest wraps upstream vendor failures so handlers can map
	// them to a 502 without inspecting vendor-specific errors.
	ErrProviderRequest = errors.New("provider request failed")
)
