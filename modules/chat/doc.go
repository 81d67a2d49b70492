// Package chat relays conversations to third-party AI providers using
// API keys the user brings. The service keeps a per-user key vault,
// persists conversation history, and proxies chat completions and file
// uploads to OpenAI, Anthropic, and Gemini without retaining vendor
// credentials anywhere but the key table.
package chat
