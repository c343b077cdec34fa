package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.io/infrasutra/mailshelf/internal/progress"
)

const (
	eventProgress = "progress"
	eventDone     = "done"
	eventFailed   = "failed"

	archiveField = "archive"
)

var (
	errMissingArchive = errors.New("multipart field \"archive\" missing")
	errEmptyUpload    = errors.New("empty upload")
)

type progressEvent struct {
	ImportID     string  `json:"importId"`
	Completed    int     `json:"completed"`
	Total        int     `json:"total"`
	Percent      float64 `json:"percent"`
	OpsPerSecond float64 `json:"opsPerSecond"`
}

type doneEvent struct {
	ImportID          string `json:"importId"`
	Folders           int    `json:"folders"`
	Messages          int    `json:"messages"`
	Attachments       int    `json:"attachments"`
	FailedAttachments int    `json:"failedAttachments"`
	DurationMs        int64  `json:"durationMs"`
}

type failedEvent struct {
	ImportID string `json:"importId"`
	Error    string `json:"error"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if !s.importing.CompareAndSwap(false, true) {
		http.Error(w, "import already running", http.StatusConflict)
		return
	}

	path, err := s.receiveArchive(w, r)
	if err != nil {
		s.importing.Store(false)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			http.Error(w, "archive too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, errMissingArchive), errors.Is(err, errEmptyUpload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("receive archive", "error", err)
			http.Error(w, "unable to receive archive", http.StatusInternalServerError)
		}
		return
	}

	id := uuid.NewString()
	s.imports.Add(1)
	go s.runImport(context.WithoutCancel(r.Context()), id, path)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"importId": id})
}

// receiveArchive spools the upload to a temporary file. The body is either
// the raw archive or a multipart form carrying it in the "archive" field.
func (s *Server) receiveArchive(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())

	var src io.Reader = r.Body
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mediaType == "multipart/form-data" {
		reader, err := r.MultipartReader()
		if err != nil {
			return "", fmt.Errorf("read multipart: %w", err)
		}
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return "", errMissingArchive
			}
			if err != nil {
				return "", fmt.Errorf("read multipart: %w", err)
			}
			if part.FormName() == archiveField {
				defer part.Close()
				src = part
				break
			}
			part.Close()
		}
	}

	file, err := os.CreateTemp(s.tempDir, "mailshelf-import-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	written, copyErr := io.Copy(file, src)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	if written == 0 {
		os.Remove(file.Name())
		return "", errEmptyUpload
	}
	return file.Name(), nil
}

func (s *Server) runImport(ctx context.Context, id, path string) {
	defer s.imports.Done()
	defer s.importing.Store(false)
	defer os.Remove(path)

	s.gate.Lock()
	defer s.gate.Unlock()

	lastPercent := -1
	sink := func(r progress.Report) {
		percent := int(r.Percent)
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		s.publish(eventProgress, progressEvent{
			ImportID:     id,
			Completed:    r.Completed,
			Total:        r.Total,
			Percent:      r.Percent,
			OpsPerSecond: r.OpsPerSecond,
		})
	}

	result, err := s.loader.ImportFileWithID(ctx, id, path, sink)
	if err != nil {
		s.logger.Error("import failed", "import", id, "error", err)
		s.publish(eventFailed, failedEvent{ImportID: id, Error: err.Error()})
		return
	}
	s.publish(eventDone, doneEvent{
		ImportID:          id,
		Folders:           result.Folders,
		Messages:          result.Messages,
		Attachments:       result.Attachments,
		FailedAttachments: result.FailedAttachments,
		DurationMs:        result.Duration.Milliseconds(),
	})
}

func (s *Server) publish(event string, data any) {
	if err := s.hub.Publish(event, data); err != nil {
		s.logger.Warn("publish event", "event", event, "error", err)
	}
}
