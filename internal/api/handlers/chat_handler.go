package handlers

import (
	"net/http"
	"strings"

	"github.com/pagemark-io/pagemark/internal/api/httputil"
	middleware "github.com/pagemark-io/pagemark/internal/api/middlewares"
	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/answer"
	"github.com/pagemark-io/pagemark/internal/core/retrieval"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

type ChatHandler struct {
	db        core.DbClient
	retriever *retrieval.Retriever
	streamer  *answer.Streamer
	log       *logger.Logger
}

func NewChatHandler(db core.DbClient, retriever *retrieval.Retriever, streamer *answer.Streamer, log *logger.Logger) *ChatHandler {
	return &ChatHandler{db: db, retriever: retriever, streamer: streamer, log: log}
}

type chatRequest struct {
	Messages   []models.ChatMessage `json:"messages"`
	DocumentID string               `json:"documentId"`
}

// Chat answers the latest user message as an SSE stream grounded in the
// selected document. Everything that can fail with a JSON error does so
// before the first stream byte; after that, failures abort the stream.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req chatRequest
	if err := httputil.DecodeJSON(w, r, 1<<20, &req); err != nil {
		httputil.WriteError(w, apierr.Validation("invalid request body"))
		return
	}
	if req.DocumentID == "" || len(req.Messages) == 0 {
		httputil.WriteError(w, apierr.Validation("messages and documentId are required"))
		return
	}
	query := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
	if query == "" {
		httputil.WriteError(w, apierr.Validation("last message must not be empty"))
		return
	}

	doc, err := h.db.GetDocumentByID(r.Context(), req.DocumentID)
	if err != nil {
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	if doc == nil || doc.UserID != userID {
		httputil.WriteError(w, apierr.NotFound("document %s", req.DocumentID))
		return
	}

	res, err := h.retriever.Retrieve(r.Context(), query, doc.ID)
	if err != nil {
		h.log.Error("retrieval failed", "documentId", doc.ID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	sw, err := httputil.NewSSEWriter(w)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = sw.WriteComment("ok")

	streamErr := h.streamer.Stream(r.Context(), sw, answer.Request{
		DocumentID:   doc.ID,
		SystemPrompt: res.SystemPrompt(),
		History:      req.Messages,
		Pages:        res.Pages,
	})
	if streamErr != nil {
		h.log.Warn("chat stream ended with error", "documentId", doc.ID, "error", streamErr)
	}
}
