package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai"
)

const maxBodyBytes = 1 << 20

// handlers holds dependencies for all HTTP handler methods.
type handlers struct {
	engine *newsai.Engine
	logger *zap.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

// --- Helper methods ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *newsai.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, newsai.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, newsai.ErrDuplicateFeed):
		status = http.StatusConflict
	case errors.Is(err, newsai.ErrGeneratorUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		if !errors.Is(err, newsai.ErrScrapeFailed) {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf(format, args...)})
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid JSON body: %w", err)
}

func (h *handlers) articleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id := pathID(r)
	if id < 0 {
		badRequest(w, "invalid article ID %q", r.PathValue("id"))
		return 0, false
	}
	return id, true
}

// --- Config and tags ---

func (h *handlers) handleInitialConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.InitialConfig()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handlers) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.engine.Tags()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// --- Articles ---

func (h *handlers) handleArticleList(w http.ResponseWriter, r *http.Request) {
	var req newsai.PageRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	page, err := h.engine.ListArticles(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}
	article, err := h.engine.GetArticle(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (h *handlers) handleArticleContent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}
	c, err := h.engine.ArticleContent(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleArticleAction dispatches custom methods of the form
// POST /articles/{id}:{verb}.
func (h *handlers) handleArticleAction(w http.ResponseWriter, r *http.Request) {
	rawID, verb, _ := strings.Cut(r.PathValue("target"), ":")
	if verb != "regenerate-summary" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown article action"})
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid article ID %q", rawID)
		return
	}

	var req newsai.RegenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	article, err := h.engine.RegenerateSummary(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}
	var req newsai.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	resp, err := h.engine.Chat(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.articleID(w, r)
	if !ok {
		return
	}
	turns, err := h.engine.ChatHistory(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *handlers) handleCleanup(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than_days")
	days, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(w, "older_than_days must be an integer, got %q", raw)
		return
	}
	result, err := h.engine.Cleanup(days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Feeds ---

func (h *handlers) handleFeedList(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.engine.Feeds()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (h *handlers) handleFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if id < 0 {
		badRequest(w, "invalid feed ID %q", r.PathValue("id"))
		return
	}
	feed, err := h.engine.Feed(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *handlers) handleFeedAdd(w http.ResponseWriter, r *http.Request) {
	var req newsai.AddFeedRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	feed, err := h.engine.AddFeed(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (h *handlers) handleFeedUpdate(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if id < 0 {
		badRequest(w, "invalid feed ID %q", r.PathValue("id"))
		return
	}
	var req newsai.UpdateFeedRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	feed, err := h.engine.UpdateFeed(id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *handlers) handleFeedDelete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if id < 0 {
		badRequest(w, "invalid feed ID %q", r.PathValue("id"))
		return
	}
	if err := h.engine.DeleteFeed(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	started := h.engine.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}
