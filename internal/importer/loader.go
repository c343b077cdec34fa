// Package importer loads a mail export archive into the local store.
//
// An import always starts from an empty store: every collection is cleared
// first, so the store reflects exactly one archive at a time. Folder and
// message writes run sequentially in discovery order; only attachment blobs
// are extracted concurrently.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/mailshelf/internal/archive"
	"github.io/infrasutra/mailshelf/internal/export"
	"github.io/infrasutra/mailshelf/internal/progress"
	"github.io/infrasutra/mailshelf/internal/store"
)

// DefaultAttachmentWorkers bounds attachment extraction when the caller has
// no configured limit.
const DefaultAttachmentWorkers = 8

// Loader imports archives into a store.
type Loader struct {
	store   *store.Store
	logger  *slog.Logger
	workers int
}

// New returns a Loader writing to st. workers bounds concurrent attachment
// extraction; zero or less means no bound.
func New(st *store.Store, logger *slog.Logger, workers int) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: st, logger: logger, workers: workers}
}

// Result summarises a finished import.
type Result struct {
	ImportID          string
	ManifestFound     bool
	Folders           int
	Messages          int
	Attachments       int
	FailedAttachments int
	Operations        int
	Duration          time.Duration
}

// LogAttrs returns r as slog key-value pairs.
func (r Result) LogAttrs() []any {
	return []any{
		"import", r.ImportID,
		"manifest", r.ManifestFound,
		"folders", r.Folders,
		"messages", r.Messages,
		"attachments", r.Attachments,
		"failedAttachments", r.FailedAttachments,
		"duration", r.Duration,
	}
}

// ImportFile opens the archive at path and imports it. A corrupt archive is
// reported before the store is touched.
func (l *Loader) ImportFile(ctx context.Context, path string, sink progress.Sink) (Result, error) {
	return l.ImportFileWithID(ctx, uuid.NewString(), path, sink)
}

// ImportFileWithID is ImportFile with a caller-chosen import id, for callers
// that hand the id out before the import runs.
func (l *Loader) ImportFileWithID(ctx context.Context, id, path string, sink progress.Sink) (Result, error) {
	a, err := archive.OpenFile(path)
	if err != nil {
		return Result{ImportID: id}, err
	}
	defer a.Close()
	return l.run(ctx, id, a, sink)
}

// Import replaces the store content with the content of a.
func (l *Loader) Import(ctx context.Context, a *archive.Archive, sink progress.Sink) (Result, error) {
	return l.run(ctx, uuid.NewString(), a, sink)
}

func (l *Loader) run(ctx context.Context, id string, a *archive.Archive, sink progress.Sink) (Result, error) {
	started := time.Now()
	result := Result{ImportID: id}
	logger := l.logger.With("import", result.ImportID)
	tracker := progress.NewTracker(sink)

	logger.Info("import started", "entries", a.Len())

	if err := l.store.Clear(ctx); err != nil {
		return result, fmt.Errorf("clear store: %w", err)
	}

	manifest, err := l.loadManifest(ctx, a)
	if err != nil {
		return result, err
	}
	result.ManifestFound = manifest != nil

	folders := ResolveFolders(a, manifest)
	logger.Debug("folders resolved", "count", len(folders), "fromManifest", manifest != nil)

	batches := make([][]store.Message, len(folders))
	total := len(folders)
	for i, folder := range folders {
		messages, err := decodeFolderMessages(a, folder)
		if err != nil {
			return result, err
		}
		batches[i] = messages
		total += len(messages)
	}

	blobs := attachmentEntries(a)
	total += len(blobs)
	tracker.SetTotal(total)
	result.Operations = total
	logger.Debug("operations counted", "total", total, "attachments", len(blobs))

	for i, folder := range folders {
		record, err := folderRecord(a, folder, batches[i], manifest)
		if err != nil {
			return result, err
		}
		if err := l.store.PutFolder(ctx, record); err != nil {
			return result, fmt.Errorf("write folder %q: %w", folder.Alias, err)
		}
		result.Folders++
		tracker.Add(1)

		batch := batches[i]
		for j := range batch {
			batch[j].FolderID = folder.Alias
			batch[j].IsRead = false
		}
		if err := l.store.PutMessages(ctx, batch); err != nil {
			return result, fmt.Errorf("write messages of %q: %w", folder.Alias, err)
		}
		result.Messages += len(batch)
		tracker.Add(len(batch))
		logger.Debug("folder imported", "folder", folder.Alias, "messages", len(batch))
	}

	stored, failed := l.loadAttachments(ctx, a, blobs, tracker, logger)
	result.Attachments = stored
	result.FailedAttachments = failed

	tracker.Finish()
	result.Duration = time.Since(started)
	logger.Info("import completed", result.LogAttrs()...)
	return result, nil
}

func (l *Loader) loadManifest(ctx context.Context, a *archive.Archive) (*store.Manifest, error) {
	text, ok, err := a.ReadText(export.ManifestName)
	if err != nil {
		return nil, &ParseError{Entry: export.ManifestName, Err: err}
	}
	if !ok {
		l.logger.Debug("no manifest in archive")
		return nil, nil
	}
	manifest, err := export.DecodeManifest([]byte(text))
	if err != nil {
		return nil, &ParseError{Entry: export.ManifestName, Err: err}
	}
	if err := l.store.PutManifest(ctx, manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &manifest, nil
}

func decodeFolderMessages(a *archive.Archive, folder Folder) ([]store.Message, error) {
	name := export.MessagesPath(folder.Alias)
	text, ok, err := a.ReadText(name)
	if err != nil {
		return nil, &ParseError{Folder: folder.Alias, Entry: name, Err: err}
	}
	if !ok {
		return nil, nil
	}
	messages, err := export.DecodeMessages([]byte(text))
	if err != nil {
		return nil, &ParseError{Folder: folder.Alias, Entry: name, Err: err}
	}
	return messages, nil
}

func folderRecord(a *archive.Archive, folder Folder, messages []store.Message, manifest *store.Manifest) (store.Folder, error) {
	name := export.FolderInfoPath(folder.Alias)
	text, ok, err := a.ReadText(name)
	if err != nil {
		return store.Folder{}, &ParseError{Folder: folder.Alias, Entry: name, Err: err}
	}
	if !ok {
		return synthesizeFolder(folder.Alias, messages, manifest), nil
	}
	record, err := export.DecodeFolderInfo(folder.Alias, []byte(text))
	if err != nil {
		return store.Folder{}, &ParseError{Folder: folder.Alias, Entry: name, Err: err}
	}
	return record, nil
}

func attachmentEntries(a *archive.Archive) []archive.Entry {
	var blobs []archive.Entry
	for _, e := range a.List(export.AttachmentsAlias + "/") {
		if !e.IsDir {
			blobs = append(blobs, e)
		}
	}
	return blobs
}

func (l *Loader) loadAttachments(ctx context.Context, a *archive.Archive, blobs []archive.Entry, tracker *progress.Tracker, logger *slog.Logger) (int, int) {
	var stored, failed atomic.Int64
	var g errgroup.Group
	if l.workers > 0 {
		g.SetLimit(l.workers)
	}

	prefix := export.AttachmentsAlias + "/"
	for _, blob := range blobs {
		g.Go(func() error {
			guid := strings.TrimPrefix(blob.Name, prefix)
			if err := l.loadAttachment(ctx, a, guid, blob.Name); err != nil {
				failed.Add(1)
				logger.Warn("skip attachment", "guid", guid, "error", err)
			} else {
				stored.Add(1)
			}
			tracker.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(stored.Load()), int(failed.Load())
}

func (l *Loader) loadAttachment(ctx context.Context, a *archive.Archive, guid, name string) error {
	data, err := a.ReadBytes(name)
	if err != nil {
		return &AttachmentError{Guid: guid, Err: err}
	}
	if err := l.store.PutAttachment(ctx, store.Attachment{Guid: guid, Data: data}); err != nil {
		return &AttachmentError{Guid: guid, Err: err}
	}
	return nil
}
