package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/verifyr/verifyr"
	"github.com/verifyr/verifyr/index"
	"github.com/verifyr/verifyr/llm"
	"github.com/verifyr/verifyr/retrieval"
	"github.com/verifyr/verifyr/store"
)

type handler struct {
	engine *verifyr.Engine
}

func newHandler(e *verifyr.Engine) *handler {
	return &handler{engine: e}
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q verifyr.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	q.Requester = requesterFrom(r)

	resp, err := h.engine.Query(r.Context(), q)
	if err != nil {
		writeEngineError(w, err)
		slog.Error("query error", "conversation_id", q.ConversationID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /conversations
func (h *handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.engine.Conversations(r.Context(), requesterFrom(r))
	if err != nil {
		writeEngineError(w, err)
		slog.Error("list conversations error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
	})
}

// GET /conversations/{id}
func (h *handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := h.engine.Conversation(r.Context(), id, requesterFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// GET /products
func (h *handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": h.engine.Products(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.CheckHealth(r.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// writeEngineError maps engine errors to HTTP status codes with a
// machine-readable kind. Upstream detail stays in the logs, not the body.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verifyr.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "empty_question", "question is required")
	case errors.Is(err, verifyr.ErrQuestionTooLong):
		writeError(w, http.StatusBadRequest, "question_too_long", "question exceeds maximum length")
	case errors.Is(err, verifyr.ErrUnknownModel), errors.Is(err, llm.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "unknown_model", "requested model is not configured")
	case errors.Is(err, verifyr.ErrInvalidConversationID):
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation id is not a valid UUID")
	case errors.Is(err, store.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", "you do not have access to this conversation")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, verifyr.ErrTimeout),
		errors.Is(err, llm.ErrTimeout),
		errors.Is(err, retrieval.ErrRetrievalTimeout):
		writeError(w, http.StatusRequestTimeout, "timeout", "request timed out")
	case errors.Is(err, verifyr.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "overloaded", "too many concurrent requests, retry shortly")
	case errors.Is(err, index.ErrIndexUnavailable),
		errors.Is(err, index.ErrEmbedderMismatch),
		errors.Is(err, verifyr.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, "index_unavailable", "service is not ready")
	case errors.Is(err, llm.ErrAuth),
		errors.Is(err, llm.ErrRequestFailed),
		errors.Is(err, retrieval.ErrRetrievalFailed):
		writeError(w, http.StatusBadGateway, "upstream_failed", "upstream provider failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"kind": kind, "message": msg},
	})
}
