package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.io/infrasutra/mailshelf/internal/config"
	"github.io/infrasutra/mailshelf/internal/importer"
	"github.io/infrasutra/mailshelf/internal/pagination"
	"github.io/infrasutra/mailshelf/internal/rfc822"
	"github.io/infrasutra/mailshelf/internal/search"
	"github.io/infrasutra/mailshelf/internal/sse"
	"github.io/infrasutra/mailshelf/internal/store"
)

const pingInterval = 20 * time.Second

type Server struct {
	cfg    config.Config
	store  *store.Store
	loader *importer.Loader
	hub    *sse.Hub
	logger *slog.Logger
	policy *bluemonday.Policy
	mux    *http.ServeMux

	// gate is held exclusively for the whole of an import; handlers that
	// touch the store only try to share it.
	gate      sync.RWMutex
	importing atomic.Bool
	imports   sync.WaitGroup
	tempDir   string
}

func NewServer(cfg config.Config, st *store.Store, loader *importer.Loader, hub *sse.Hub, logger *slog.Logger) *Server {
	server := &Server{
		cfg:    cfg,
		store:  st,
		loader: loader,
		hub:    hub,
		logger: logger,
		policy: bluemonday.UGCPolicy(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/folders", server.shared(server.handleFolders))
	mux.HandleFunc("GET /api/folders/{id}/messages", server.shared(server.handleFolderMessages))
	mux.HandleFunc("GET /api/messages/{id}", server.shared(server.handleMessageDetail))
	mux.HandleFunc("PATCH /api/messages/{id}", server.shared(server.handleMessageUpdate))
	mux.HandleFunc("GET /api/messages/{id}/raw", server.shared(server.handleMessageRaw))
	mux.HandleFunc("GET /api/attachments/{guid...}", server.shared(server.handleAttachment))
	mux.HandleFunc("GET /api/manifest", server.shared(server.handleManifest))
	mux.HandleFunc("POST /api/import", server.handleImport)
	mux.HandleFunc("DELETE /api/data", server.handleClear)
	mux.HandleFunc("GET /api/stream", server.handleStream)
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Wait blocks until background imports have finished.
func (s *Server) Wait() {
	s.imports.Wait()
}

// shared rejects the request with 503 while an import holds the store.
func (s *Server) shared(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.TryRLock() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "import in progress", http.StatusServiceUnavailable)
			return
		}
		defer s.gate.RUnlock()
		next(w, r)
	}
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		s.storeError(w, err, "unable to list folders")
		return
	}
	response := make([]folderSummary, 0, len(folders))
	for _, folder := range folders {
		response = append(response, toFolderSummary(folder))
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleFolderMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetFolder(r.Context(), id); err != nil {
		s.storeError(w, err, "unable to load folder")
		return
	}
	messages, err := s.store.ListMessagesByFolder(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "unable to list messages")
		return
	}

	query := r.URL.Query()
	matched := search.Filter(messages, query.Get("q"))
	params := pagination.FromQuery(query, s.cfg.PageOptions()...)
	page := pagination.Slice(matched, params)

	response := struct {
		Messages []messageSummary `json:"messages"`
		Page     int              `json:"page"`
		Limit    int              `json:"limit"`
		Total    int              `json:"total"`
		HasNext  bool             `json:"hasNext"`
	}{
		Messages: make([]messageSummary, 0, len(page)),
		Page:     params.Page,
		Limit:    params.Limit,
		Total:    len(matched),
		HasNext:  params.HasNext(len(matched)),
	}
	for _, msg := range page {
		response.Messages = append(response.Messages, toMessageSummary(msg))
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	message, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err, "unable to load message")
		return
	}
	detail := messageDetail{
		messageSummary: toMessageSummary(message),
		Cc:             message.Cc,
		Bcc:            message.Bcc,
		Text:           message.TextBody,
		HTML:           s.policy.Sanitize(message.HTMLBody),
		FileName:       message.FileName,
		Attachments:    make([]attachmentSummary, 0, len(message.Attachments)),
	}
	for _, ref := range message.Attachments {
		detail.Attachments = append(detail.Attachments, attachmentSummary{
			Guid:     ref.Guid,
			FileName: ref.FileName,
			MimeType: ref.MimeType,
			Size:     ref.Size,
		})
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IsRead *bool `json:"isRead"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.IsRead == nil {
		http.Error(w, "isRead required", http.StatusBadRequest)
		return
	}
	if err := s.store.SetRead(r.Context(), r.PathValue("id"), *payload.IsRead); err != nil {
		s.storeError(w, err, "unable to update message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessageRaw(w http.ResponseWriter, r *http.Request) {
	message, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err, "unable to load message")
		return
	}
	var buf bytes.Buffer
	if err := rfc822.Write(r.Context(), &buf, message, s.store); err != nil {
		s.logger.Error("render message", "id", message.ID, "error", err)
		http.Error(w, "unable to render message", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": rfc822.FileName(message)}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	attachment, err := s.store.GetAttachment(r.Context(), guid)
	if err != nil {
		s.storeError(w, err, "unable to load attachment")
		return
	}
	ref, err := s.store.FindAttachmentRef(r.Context(), guid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.storeError(w, err, "unable to load attachment")
		return
	}
	contentType := ref.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := ref.FileName
	if name == "" {
		name = guid
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(attachment.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(attachment.Data)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.store.GetManifest(r.Context())
	if err != nil {
		s.storeError(w, err, "unable to load manifest")
		return
	}
	s.respondJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.gate.TryLock() {
		http.Error(w, "import in progress", http.StatusConflict)
		return
	}
	defer s.gate.Unlock()
	if err := s.store.Clear(r.Context()); err != nil {
		s.storeError(w, err, "unable to clear data")
		return
	}
	s.logger.Info("store cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error(message, "error", err)
		http.Error(w, message, http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.importing.Load() {
		s.respondText(w, http.StatusServiceUnavailable, "importing")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

type folderSummary struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	ExportDate      string              `json:"exportDate"`
	EmailCount      int                 `json:"emailCount"`
	AttachmentCount int                 `json:"attachmentCount"`
	Earliest        string              `json:"earliest"`
	Latest          string              `json:"latest"`
	TopSenders      []store.SenderCount `json:"topSenders"`
}

type messageSummary struct {
	ID             string `json:"id"`
	FolderID       string `json:"folderId"`
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Date           string `json:"date"`
	SentAt         string `json:"sentAt,omitempty"`
	HasAttachments bool   `json:"hasAttachments"`
	IsRead         bool   `json:"isRead"`
}

type messageDetail struct {
	messageSummary
	Cc          string              `json:"cc"`
	Bcc         string              `json:"bcc"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	FileName    string              `json:"fileName"`
	Attachments []attachmentSummary `json:"attachments"`
}

type attachmentSummary struct {
	Guid     string `json:"guid"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

func toFolderSummary(folder store.Folder) folderSummary {
	senders := folder.TopSenders
	if senders == nil {
		senders = []store.SenderCount{}
	}
	return folderSummary{
		ID:              folder.ID,
		Name:            folder.FolderName,
		ExportDate:      folder.ExportDate,
		EmailCount:      folder.EmailCount,
		AttachmentCount: folder.AttachmentCount,
		Earliest:        folder.DateRange.Earliest,
		Latest:          folder.DateRange.Latest,
		TopSenders:      senders,
	}
}

func toMessageSummary(msg store.Message) messageSummary {
	summary := messageSummary{
		ID:             msg.ID,
		FolderID:       msg.FolderID,
		From:           msg.From,
		To:             msg.To,
		Subject:        strings.TrimSpace(msg.Subject),
		Date:           msg.Date,
		HasAttachments: msg.HasAttachments,
		IsRead:         msg.IsRead,
	}
	if !msg.SentAt.IsZero() {
		summary.SentAt = msg.SentAt.UTC().Format(time.RFC3339)
	}
	return summary
}
