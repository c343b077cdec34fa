// Package archivetest builds export archives for tests.
package archivetest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailshelf/internal/archive"
)

// File is one archive entry. A Name ending in "/" is a directory. Stored
// entries are written uncompressed.
type File struct {
	Name   string
	Body   string
	Stored bool
}

// Zip encodes files, in order, as a ZIP archive.
func Zip(t testing.TB, files []File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		method := zip.Deflate
		if f.Stored {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: method})
		require.NoError(t, err)
		if f.Body != "" {
			_, err = w.Write([]byte(f.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Open returns an in-memory archive of files.
func Open(t testing.TB, files []File) *archive.Archive {
	t.Helper()
	data := Zip(t, files)
	a, err := archive.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return a
}

// Write stores the archive of files under the test's temp dir and returns
// its path.
func Write(t testing.TB, files []File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	require.NoError(t, os.WriteFile(path, Zip(t, files), 0o644))
	return path
}

const (
	sampleManifest = `{
  "ExportDate": "2024-03-01T10:00:00Z",
  "TotalFolders": 2,
  "TotalEmails": 3,
  "TotalAttachments": 1,
  "Folders": [
    {"Name": "Inbox", "SafeName": "Inbox", "EmailCount": 2, "AttachmentCount": 1},
    {"Name": "Sent Items", "SafeName": "Sent_Items", "EmailCount": 1, "AttachmentCount": 0}
  ]
}`

	sampleInboxInfo = `{
  "FolderName": "Inbox",
  "ExportDate": "2024-03-01T10:00:00Z",
  "EmailCount": 2,
  "AttachmentCount": 1,
  "DateRange": {"Earliest": "2024-01-01T09:00:00Z", "Latest": "2024-01-02T09:00:00Z"},
  "TopSenders": [
    {"Sender": "Alice <alice@example.com>", "Count": 1},
    {"Sender": "Bob <bob@example.com>", "Count": 1}
  ]
}`

	sampleInboxMessages = `[
  {
    "Id": "m1",
    "Subject": "Hello",
    "From": "Alice <alice@example.com>",
    "To": "me@example.com",
    "Date": "2024-01-01T09:00:00Z",
    "TextBody": "Hi there",
    "Attachments": [
      {"Guid": "g1", "FileName": "report.pdf", "MimeType": "application/pdf", "Size": 5}
    ],
    "HasAttachments": true,
    "FileName": "hello.eml"
  },
  {
    "Id": "m2",
    "Subject": "Meeting",
    "From": "Bob <bob@example.com>",
    "To": "me@example.com",
    "Date": "2024-01-02T09:00:00Z",
    "HtmlBody": "<p>Agenda</p><script>alert(1)</script>"
  }
]`

	sampleSentMessages = `[
  {
    "Id": "m3",
    "Subject": "Re: Hello",
    "From": "Me <me@example.com>",
    "To": "Alice <alice@example.com>",
    "Date": "2024-01-03T09:00:00Z",
    "TextBody": "Thanks Alice"
  }
]`

	// SampleAttachment is the blob stored for guid "g1".
	SampleAttachment = "%PDF-"
)

// Sample is a two-folder export: "Inbox" with folder-info and one
// attachment, and "Sent_Items" without folder-info.
func Sample() []File {
	return []File{
		{Name: "export-index.json", Body: sampleManifest},
		{Name: "Inbox/"},
		{Name: "Inbox/folder-info.json", Body: sampleInboxInfo},
		{Name: "Inbox/emails.json", Body: sampleInboxMessages},
		{Name: "Sent_Items/"},
		{Name: "Sent_Items/emails.json", Body: sampleSentMessages},
		{Name: "attachments/"},
		{Name: "attachments/g1", Body: SampleAttachment},
	}
}
