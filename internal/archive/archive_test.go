package archive_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailshelf/internal/archive"
	"github.io/infrasutra/mailshelf/internal/archivetest"
)

func TestArchiveEntries(t *testing.T) {
	a := archivetest.Open(t, []archivetest.File{
		{Name: "Inbox/"},
		{Name: "Inbox/emails.json", Body: "[]"},
		{Name: "attachments/"},
		{Name: "attachments/a1", Body: "one"},
		{Name: "attachments/a2", Body: "two"},
	})
	defer a.Close()

	require.Equal(t, 5, a.Len())
	require.Equal(t, []string{"Inbox/", "Inbox/emails.json", "attachments/", "attachments/a1", "attachments/a2"}, a.Names())

	require.True(t, a.Has("Inbox/emails.json"))
	require.False(t, a.Has("Inbox/"), "directories are not files")
	require.False(t, a.Has("Inbox/folder-info.json"))

	entries := a.List("attachments")
	require.Len(t, entries, 2)
	require.Equal(t, "attachments/a1", entries[0].Name)
	require.Equal(t, int64(3), entries[0].Size)
}

func TestArchiveReadText(t *testing.T) {
	a := archivetest.Open(t, []archivetest.File{
		{Name: "Inbox/"},
		{Name: "Inbox/emails.json", Body: `[{"Id":"x"}]`},
	})

	text, ok, err := a.ReadText("Inbox/emails.json")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[{"Id":"x"}]`, text)

	_, ok, err = a.ReadText("missing.json")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = a.ReadText("Inbox/")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = a.ReadBytes("missing.json")
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestArchiveCorrupt(t *testing.T) {
	data := []byte("definitely not a zip file")
	_, err := archive.Open(bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, archive.ErrCorrupt)

	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = archive.OpenFile(path)
	require.ErrorIs(t, err, archive.ErrCorrupt)
}

func TestArchiveOpenFileMissing(t *testing.T) {
	_, err := archive.OpenFile(filepath.Join(t.TempDir(), "nope.zip"))
	require.Error(t, err)
	require.NotErrorIs(t, err, archive.ErrCorrupt)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestArchiveOpenFile(t *testing.T) {
	path := archivetest.Write(t, archivetest.Sample())
	a, err := archive.OpenFile(path)
	require.NoError(t, err)
	defer a.Close()

	data, err := a.ReadBytes("attachments/g1")
	require.NoError(t, err)
	require.Equal(t, archivetest.SampleAttachment, string(data))
}
