package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, filepath.Join(t.TempDir(), "mailshelf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func seed(t *testing.T, st *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.PutManifest(ctx, Manifest{
		ExportDate:   "2024-03-01",
		TotalFolders: 1,
		Folders:      []ManifestFolder{{Name: "Inbox", SafeName: "Inbox", EmailCount: 2}},
	}))
	require.NoError(t, st.PutFolder(ctx, Folder{
		ID:         "Inbox",
		FolderName: "Inbox",
		EmailCount: 2,
		DateRange:  DateRange{Earliest: "2024-01-01", Latest: "2024-01-02"},
		TopSenders: []SenderCount{{Sender: "alice@example.com", Count: 2}},
	}))
	require.NoError(t, st.PutMessages(ctx, []Message{
		{
			ID:             "old",
			FolderID:       "Inbox",
			Subject:        "Older",
			SentAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Attachments:    []AttachmentRef{{Guid: "g1", FileName: "a.pdf", MimeType: "application/pdf", Size: 3}},
			HasAttachments: true,
		},
		{
			ID:       "new",
			FolderID: "Inbox",
			Subject:  "Newer",
			SentAt:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			HTMLBody: "<p>hi</p>",
		},
	}))
	require.NoError(t, st.PutAttachment(ctx, Attachment{Guid: "g1", Data: []byte("pdf")}))
}

func TestStoreRoundTrip(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	manifest, err := st.GetManifest(ctx)
	require.NoError(t, err)
	require.Equal(t, "Inbox", manifest.Folders[0].SafeName)

	folders, err := st.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	require.Equal(t, "2024-01-02", folders[0].DateRange.Latest)
	require.Equal(t, []SenderCount{{Sender: "alice@example.com", Count: 2}}, folders[0].TopSenders)

	messages, err := st.ListMessagesByFolder(ctx, "Inbox")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "new", messages[0].ID, "newest first")
	require.Equal(t, "old", messages[1].ID)
	require.Empty(t, messages[0].Attachments)
	require.NotNil(t, messages[0].Attachments)

	msg, err := st.GetMessage(ctx, "old")
	require.NoError(t, err)
	require.True(t, msg.HasAttachments)
	require.Equal(t, "a.pdf", msg.Attachments[0].FileName)
	require.True(t, msg.SentAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	blob, err := st.GetAttachment(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []byte("pdf"), blob.Data)
	require.Equal(t, int64(3), blob.Size)

	ref, err := st.FindAttachmentRef(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", ref.MimeType)
	require.Equal(t, "a.pdf", ref.FileName)

	_, err = st.FindAttachmentRef(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetManifest(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetFolder(ctx, "Inbox")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetMessage(ctx, "m1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetAttachment(ctx, "g1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.SetRead(ctx, "m1", true), ErrNotFound)
}

func TestStoreSetRead(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	require.NoError(t, st.SetRead(ctx, "new", true))
	msg, err := st.GetMessage(ctx, "new")
	require.NoError(t, err)
	require.True(t, msg.IsRead)

	require.NoError(t, st.SetRead(ctx, "new", false))
	msg, err = st.GetMessage(ctx, "new")
	require.NoError(t, err)
	require.False(t, msg.IsRead)
}

func TestStoreUpsertMessage(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	require.NoError(t, st.PutMessages(ctx, []Message{{ID: "new", FolderID: "Inbox", Subject: "Replaced"}}))
	msg, err := st.GetMessage(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, "Replaced", msg.Subject)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts.Messages)
}

func TestStoreClear(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)
	ctx := context.Background()

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Folders: 1, Messages: 2, Attachments: 1, Manifest: true}, counts)

	require.NoError(t, st.Clear(ctx))
	counts, err = st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{}, counts)

	// Clearing an empty store is fine.
	require.NoError(t, st.Clear(ctx))
}

func TestStoreInMemory(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, "")
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.EnsureSchema(ctx))
	seed(t, st)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts.Messages)
}
