package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/igorsilveira/parley/pkg/telemetry"
)

var ErrUnknownConversation = errors.New("mcp: unknown conversation")

// Mount registers the triplet endpoints on r under PathPrefix.
func Mount(r chi.Router, t Triplet, logger *slog.Logger) {
	h := &httpHandler{triplet: t, logger: telemetry.Component(logger, "mcp-http")}
	r.Route("/api/mcp", func(r chi.Router) {
		r.Post("/"+ToolBegin, h.handleBegin)
		r.Post("/"+ToolSend, h.handleSend)
		r.Post("/"+ToolCheck, h.handleCheck)
	})
}

type httpHandler struct {
	triplet Triplet
	logger  *slog.Logger
}

func (h *httpHandler) handleBegin(w http.ResponseWriter, r *http.Request) {
	h.respond(r.Context(), w, ToolBegin, func(ctx context.Context) (json.RawMessage, error) {
		return h.triplet.BeginChatThread(ctx)
	})
}

func (h *httpHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversationId is required"})
		return
	}
	h.respond(r.Context(), w, ToolSend, func(ctx context.Context) (json.RawMessage, error) {
		return h.triplet.SendMessage(ctx, req)
	})
}

func (h *httpHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversationId is required"})
		return
	}
	if req.WaitMs <= 0 {
		req.WaitMs = DefaultWaitMs
	}
	h.respond(r.Context(), w, ToolCheck, func(ctx context.Context) (json.RawMessage, error) {
		return h.triplet.CheckReplies(ctx, req)
	})
}

func (h *httpHandler) respond(ctx context.Context, w http.ResponseWriter, tool string, fn func(context.Context) (json.RawMessage, error)) {
	raw, err := fn(ctx)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrUnknownConversation) {
			status = http.StatusNotFound
		}
		h.logger.Warn("triplet call failed", slog.String("tool", tool), slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
