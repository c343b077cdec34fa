package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.io/infrasutra/mailshelf/internal/archive"
	"github.io/infrasutra/mailshelf/internal/archivetest"
	"github.io/infrasutra/mailshelf/internal/progress"
	"github.io/infrasutra/mailshelf/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "mailshelf.db"))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	reports []progress.Report
}

func (r *recorder) sink(rep progress.Report) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
}

func TestImportSample(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	var rec recorder
	loader := New(st, quietLogger(), 2)
	result, err := loader.ImportFile(ctx, archivetest.Write(t, archivetest.Sample()), rec.sink)
	require.NoError(t, err)

	require.NotEmpty(t, result.ImportID)
	require.True(t, result.ManifestFound)
	require.Equal(t, 2, result.Folders)
	require.Equal(t, 3, result.Messages)
	require.Equal(t, 1, result.Attachments)
	require.Zero(t, result.FailedAttachments)
	require.Equal(t, 2+3+1, result.Operations)

	folders, err := st.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	require.Equal(t, "Inbox", folders[0].ID)
	require.Equal(t, "Sent_Items", folders[1].ID)
	require.Equal(t, "Sent Items", folders[1].FolderName, "synthesized from the manifest")

	inbox, err := st.ListMessagesByFolder(ctx, "Inbox")
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	require.Equal(t, "m2", inbox[0].ID)
	for _, m := range inbox {
		require.Equal(t, "Inbox", m.FolderID)
		require.False(t, m.IsRead)
	}

	blob, err := st.GetAttachment(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, archivetest.SampleAttachment, string(blob.Data))

	manifest, err := st.GetManifest(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, manifest.TotalEmails)

	require.NotEmpty(t, rec.reports)
	for i := 1; i < len(rec.reports); i++ {
		require.GreaterOrEqual(t, rec.reports[i].Percent, rec.reports[i-1].Percent)
	}
	last := rec.reports[len(rec.reports)-1]
	require.Equal(t, 100.0, last.Percent)
	require.Equal(t, 6, last.Completed)
}

func TestImportReplacesPreviousContent(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()
	loader := New(st, quietLogger(), DefaultAttachmentWorkers)

	_, err := loader.Import(ctx, archivetest.Open(t, archivetest.Sample()), nil)
	require.NoError(t, err)
	require.NoError(t, st.SetRead(ctx, "m1", true))

	_, err = loader.Import(ctx, archivetest.Open(t, []archivetest.File{
		{Name: "Archive/emails.json", Body: `[{"Id": "z1", "Subject": "Only one"}]`},
	}), nil)
	require.NoError(t, err)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, store.Counts{Folders: 1, Messages: 1}, counts)

	_, err = st.GetMessage(ctx, "m1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportIsIdempotent(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()
	loader := New(st, quietLogger(), DefaultAttachmentWorkers)
	path := archivetest.Write(t, archivetest.Sample())

	_, err := loader.ImportFile(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, st.SetRead(ctx, "m1", true))
	first, err := st.Counts(ctx)
	require.NoError(t, err)

	_, err = loader.ImportFile(ctx, path, nil)
	require.NoError(t, err)
	second, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	msg, err := st.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.False(t, msg.IsRead, "a fresh import resets the read flag")
}

func TestImportParseErrorNamesFolder(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	files := archivetest.Sample()
	for i := range files {
		if files[i].Name == "Sent_Items/emails.json" {
			files[i].Body = `[{"Id": "m3",`
		}
	}

	var rec recorder
	_, err := New(st, quietLogger(), 0).Import(ctx, archivetest.Open(t, files), rec.sink)
	require.ErrorIs(t, err, ErrParse)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, "Sent_Items", parseErr.Folder)
	require.Equal(t, "Sent_Items/emails.json", parseErr.Entry)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Zero(t, counts.Folders, "message documents are decoded before any folder is written")
	require.Zero(t, counts.Messages)
	require.Empty(t, rec.reports)
}

func TestImportCorruptManifest(t *testing.T) {
	st := openStore(t)
	defer st.Close()

	_, err := New(st, quietLogger(), 0).Import(context.Background(), archivetest.Open(t, []archivetest.File{
		{Name: "export-index.json", Body: `{"Folders": [`},
		{Name: "Inbox/emails.json", Body: `[]`},
	}), nil)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Empty(t, parseErr.Folder)
	require.Equal(t, "export-index.json", parseErr.Entry)
}

func TestImportCorruptArchive(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	_, err := New(st, quietLogger(), 0).Import(ctx, archivetest.Open(t, archivetest.Sample()), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err = New(st, quietLogger(), 0).ImportFile(ctx, path, nil)
	require.ErrorIs(t, err, archive.ErrCorrupt)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, counts.Messages, "the store is untouched by a corrupt archive")
}

func TestImportWithoutManifest(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	var rec recorder
	result, err := New(st, quietLogger(), 0).Import(ctx, archivetest.Open(t, []archivetest.File{
		{Name: "Work/"},
		{Name: "Work/emails.json", Body: `[
  {"Id": "w1", "From": "Carol <carol@example.com>", "Date": "2024-02-01T00:00:00Z"},
  {"Id": "w2", "From": "carol@EXAMPLE.com", "Date": "2024-02-03T00:00:00Z",
   "Attachments": [{"Guid": "missing"}]},
  {"Id": "w3", "From": "Dave <dave@example.com>", "Date": "2024-02-02T00:00:00Z"}
]`},
		{Name: "attachments/"},
	}), rec.sink)
	require.NoError(t, err)
	require.False(t, result.ManifestFound)
	require.Equal(t, 1, result.Folders)
	require.Equal(t, 3, result.Messages)

	_, err = st.GetManifest(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	folder, err := st.GetFolder(ctx, "Work")
	require.NoError(t, err)
	require.Equal(t, "Work", folder.FolderName)
	require.Equal(t, 3, folder.EmailCount)
	require.Equal(t, 1, folder.AttachmentCount)
	require.Equal(t, "2024-02-01T00:00:00Z", folder.DateRange.Earliest)
	require.Equal(t, "2024-02-03T00:00:00Z", folder.DateRange.Latest)
	require.Len(t, folder.TopSenders, 2)
	require.Equal(t, 2, folder.TopSenders[0].Count)
	require.Equal(t, "Carol <carol@example.com>", folder.TopSenders[0].Sender)

	require.Equal(t, 100.0, rec.reports[len(rec.reports)-1].Percent)
}

func TestImportEmptyArchive(t *testing.T) {
	st := openStore(t)
	defer st.Close()

	var rec recorder
	result, err := New(st, quietLogger(), 0).Import(context.Background(), archivetest.Open(t, nil), rec.sink)
	require.NoError(t, err)
	require.Zero(t, result.Folders)
	require.Zero(t, result.Operations)
	require.Len(t, rec.reports, 1)
	require.Equal(t, 100.0, rec.reports[0].Percent)
}

func TestImportManyAttachments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := openStore(t)
	defer st.Close()

	files := []archivetest.File{{Name: "Inbox/emails.json", Body: `[{"Id": "m"}]`}, {Name: "attachments/"}}
	for i := range 40 {
		files = append(files, archivetest.File{Name: fmt.Sprintf("attachments/g%02d", i), Body: "blob"})
	}

	var rec recorder
	result, err := New(st, quietLogger(), 4).Import(context.Background(), archivetest.Open(t, files), rec.sink)
	require.NoError(t, err)
	require.Equal(t, 40, result.Attachments)
	require.Equal(t, 1+1+40, len(rec.reports)-1)
	for i := 1; i < len(rec.reports); i++ {
		require.GreaterOrEqual(t, rec.reports[i].Completed, rec.reports[i-1].Completed)
	}

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 40, counts.Attachments)
}

func TestImportSkipsUnreadableAttachment(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	data := archivetest.Zip(t, []archivetest.File{
		{Name: "Inbox/emails.json", Body: `[{"Id": "m1", "Attachments": [{"Guid": "bad"}, {"Guid": "good"}]}]`},
		{Name: "attachments/bad", Body: "CORRUPTME", Stored: true},
		{Name: "attachments/good", Body: "fine", Stored: true},
	})
	idx := bytes.Index(data, []byte("CORRUPTME"))
	require.GreaterOrEqual(t, idx, 0)
	data[idx] = 'X'
	a, err := archive.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var rec recorder
	result, err := New(st, quietLogger(), 2).Import(ctx, a, rec.sink)
	require.NoError(t, err)
	require.Equal(t, 1, result.Attachments)
	require.Equal(t, 1, result.FailedAttachments)

	_, err = st.GetAttachment(ctx, "good")
	require.NoError(t, err)
	_, err = st.GetAttachment(ctx, "bad")
	require.ErrorIs(t, err, store.ErrNotFound)

	last := rec.reports[len(rec.reports)-1]
	require.Equal(t, 100.0, last.Percent)
	require.Equal(t, 1+1+2, last.Completed)
}

func TestImportByteOrderMarkAndNestedBlob(t *testing.T) {
	st := openStore(t)
	defer st.Close()
	ctx := context.Background()

	const bom = "\ufeff"
	files := []archivetest.File{
		{Name: "export-index.json", Body: bom + `{"Folders": [{"Name": "Inbox"}]}`},
		{Name: "Inbox/folder-info.json", Body: bom + `{"FolderName": "Inbox"}`},
		{Name: "Inbox/emails.json", Body: bom + `[{"Id": "m1", "Attachments": [{"Guid": "2024/g1"}]}]`},
		{Name: "attachments/2024/g1", Body: "nested"},
	}
	result, err := New(st, quietLogger(), 1).Import(ctx, archivetest.Open(t, files), nil)
	require.NoError(t, err)
	require.True(t, result.ManifestFound)
	require.Equal(t, 1, result.Folders)
	require.Equal(t, 1, result.Messages)
	require.Equal(t, 1, result.Attachments)

	blob, err := st.GetAttachment(ctx, "2024/g1")
	require.NoError(t, err)
	require.Equal(t, "nested", string(blob.Data))
}
