package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

// IdentityFunc extracts the authenticated user from a request.
type IdentityFunc func(r *http.Request) (uuid.UUID, bool)

// RouterOptions wires the chat HTTP surface. Gate is the subscription
// access middleware; every chat route sits behind it.
type RouterOptions struct {
	Service  *Service
	Identify IdentityFunc
	Gate     func(http.Handler) http.Handler
	Log      *slog.Logger
}

// Router exposes the chat relay endpoints.
func Router(opts RouterOptions) chi.Router {
	h := &handlers{svc: opts.Service, identify: opts.Identify, log: opts.Log}
	if h.log == nil {
		h.log = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	if opts.Gate != nil {
		r.Use(opts.Gate)
	}

	r.Put("/keys/{provider}", h.setKey)
	r.Delete("/keys/{provider}", h.deleteKey)

	r.Post("/completions", h.completion)

	r.Get("/conversations", h.listConversations)
	r.Get("/conversations/{id}", h.getConversation)
	r.Delete("/conversations/{id}", h.deleteConversation)

	r.Post("/files", h.uploadFile)
	r.Delete("/files/{id}", h.deleteFile)

	return r
}

type handlers struct {
	svc      *Service
	identify IdentityFunc
	log      *slog.Logger
}

func (h *handlers) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	}
	return userID, ok
}

func (h *handlers) setKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	err := h.svc.SetProviderKey(r.Context(), userID, ProviderID(chi.URLParam(r, "provider")), req.APIKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProvider):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_provider"})
		case errors.Is(err, ErrNoAPIKey):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "empty_api_key"})
		default:
			h.fail(w, r, "store provider key", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	err := h.svc.DeleteProviderKey(r.Context(), userID, ProviderID(chi.URLParam(r, "provider")))
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProvider):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_provider"})
		case errors.Is(err, ErrNoAPIKey):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no_api_key"})
		default:
			h.fail(w, r, "delete provider key", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) completion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		Provider       string `json:"provider"`
		Model          string `json:"model"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	in := CompletionInput{
		Provider: ProviderID(req.Provider),
		Model:    req.Model,
		Content:  req.Content,
	}
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_conversation_id"})
			return
		}
		in.ConversationID = convID
	}

	result, err := h.svc.SendCompletion(r.Context(), userID, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "empty_message"})
		case errors.Is(err, ErrUnknownProvider):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown_provider"})
		case errors.Is(err, ErrNoAPIKey):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no_api_key"})
		case errors.Is(err, ErrConversationNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "conversation_not_found"})
		case errors.Is(err, ErrProviderRequest):
			h.log.WarnContext(r.Context(), "provider relay failed", logger.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "provider_error"})
		default:
			h.fail(w, r, "relay completion", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": result.ConversationID.String(),
		"reply": map[string]any{
			"id":        result.Reply.ID.String(),
			"role":      result.Reply.Role,
			"content":   result.Reply.Content,
			"createdAt": result.Reply.CreatedAt.Format(time.RFC3339),
		},
	})
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "list conversations", err)
		return
	}

	out := make([]map[string]any, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (h *handlers) getConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_conversation_id"})
		return
	}

	conv, msgs, err := h.svc.GetConversation(r.Context(), userID, convID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "conversation_not_found"})
			return
		}
		h.fail(w, r, "get conversation", err)
		return
	}

	msgOut := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		msgOut = append(msgOut, map[string]any{
			"id":        m.ID.String(),
			"role":      m.Role,
			"content":   m.Content,
			"createdAt": m.CreatedAt.Format(time.RFC3339),
		})
	}
	body := conversationJSON(*conv)
	body["messages"] = msgOut
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) deleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_conversation_id"})
		return
	}

	if err := h.svc.DeleteConversation(r.Context(), userID, convID); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "conversation_not_found"})
			return
		}
		h.fail(w, r, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) uploadFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	maxBytes := h.svc.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_multipart_body"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable_file"})
		return
	}

	rec, err := h.svc.UploadFile(r.Context(), userID, ProviderID(r.FormValue("provider")), FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProvider):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown_provider"})
		case errors.Is(err, ErrNoAPIKey):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no_api_key"})
		case errors.Is(err, ErrProviderRequest):
			h.log.WarnContext(r.Context(), "provider upload failed", logger.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "provider_error"})
		default:
			h.fail(w, r, "relay file upload", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       rec.ID.String(),
		"provider": string(rec.Provider),
		"name":     rec.Name,
	})
}

func (h *handlers) deleteFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_file_id"})
		return
	}

	if err := h.svc.DeleteFile(r.Context(), userID, fileID); err != nil {
		switch {
		case errors.Is(err, ErrFileNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "file_not_found"})
		case errors.Is(err, ErrNoAPIKey):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no_api_key"})
		case errors.Is(err, ErrProviderRequest):
			h.log.WarnContext(r.Context(), "provider delete failed", logger.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "provider_error"})
		default:
			h.fail(w, r, "delete relayed file", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func conversationJSON(c Conversation) map[string]any {
	return map[string]any{
		"id":        c.ID.String(),
		"title":     c.Title,
		"provider":  string(c.Provider),
		"model":     c.Model,
		"createdAt": c.CreatedAt.Format(time.RFC3339),
		"updatedAt": c.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op+" failed", logger.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
