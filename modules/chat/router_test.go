package chat_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/modules/chat"
)

func newChatRouter(t *testing.T, store chat.Store, provider chat.Provider, userID uuid.UUID) http.Handler {
	t.Helper()
	return chat.Router(chat.RouterOptions{
		Service: newTestService(t, store, provider),
		Identify: func(*http.Request) (uuid.UUID, bool) {
			return userID, userID != uuid.Nil
		},
	})
}

func TestKeyEndpoints(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("put then delete", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		router := newChatRouter(t, store, &fakeProvider{}, userID)

		req := httptest.NewRequest(http.MethodPut, "/keys/openai", strings.NewReader(`{"apiKey":"sk-abc"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		_, err := store.FindProviderKey(context.Background(), userID, chat.ProviderOpenAI)
		require.NoError(t, err)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/keys/openai", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)

		_, err = store.FindProviderKey(context.Background(), userID, chat.ProviderOpenAI)
		assert.ErrorIs(t, err, chat.ErrNoAPIKey)
	})

	t.Run("unknown provider is 404", func(t *testing.T) {
		t.Parallel()

		router := newChatRouter(t, newMemStore(), &fakeProvider{}, userID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/keys/grok", strings.NewReader(`{"apiKey":"x"}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unauthenticated is 401", func(t *testing.T) {
		t.Parallel()

		router := newChatRouter(t, newMemStore(), &fakeProvider{}, uuid.Nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/keys/openai", strings.NewReader(`{"apiKey":"x"}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCompletionEndpoint(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("relays and returns the reply", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		provider := &fakeProvider{
			sendChat: func(_ context.Context, _ string, req chat.ChatRequest) (*chat.ChatResponse, error) {
				return &chat.ChatResponse{Text: "pong", Model: req.Model}, nil
			},
		}
		router := newChatRouter(t, store, provider, userID)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/keys/openai", strings.NewReader(`{"apiKey":"sk-abc"}`)))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/completions",
			strings.NewReader(`{"provider":"openai","model":"gpt-4o","content":"ping"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"content":"pong"`)
		assert.Contains(t, rec.Body.String(), `"conversationId"`)
	})

	t.Run("missing key is 409", func(t *testing.T) {
		t.Parallel()

		router := newChatRouter(t, newMemStore(), &fakeProvider{}, userID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/completions",
			strings.NewReader(`{"provider":"openai","content":"hi"}`)))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "no_api_key")
	})

	t.Run("vendor outage is 502", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		provider := &fakeProvider{
			sendChat: func(_ context.Context, _ string, _ chat.ChatRequest) (*chat.ChatResponse, error) {
				return nil, fmt.Errorf("%w: openai returned 503", chat.ErrProviderRequest)
			},
		}
		router := newChatRouter(t, store, provider, userID)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/keys/openai", strings.NewReader(`{"apiKey":"sk-abc"}`)))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/completions",
			strings.NewReader(`{"provider":"openai","content":"hi"}`)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestConversationEndpoints(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	router := newChatRouter(t, newMemStore(), &fakeProvider{}, userID)

	t.Run("missing conversation is 404", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty listing", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"conversations":[]}`, rec.Body.String())
	})
}
