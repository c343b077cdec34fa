package rfc822

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailshelf/internal/store"
)

type blobMap map[string][]byte

func (b blobMap) GetAttachment(_ context.Context, guid string) (store.Attachment, error) {
	data, ok := b[guid]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return store.Attachment{Guid: guid, Data: data, Size: int64(len(data))}, nil
}

type part struct {
	contentType string
	filename    string
	body        string
}

func readParts(t *testing.T, r io.Reader) (*mail.Reader, []part) {
	t.Helper()
	mr, err := mail.CreateReader(r)
	require.NoError(t, err)

	var parts []part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, err := h.ContentType()
			require.NoError(t, err)
			parts = append(parts, part{contentType: ct, body: string(body)})
		case *mail.AttachmentHeader:
			ct, _, err := h.ContentType()
			require.NoError(t, err)
			name, err := h.Filename()
			require.NoError(t, err)
			parts = append(parts, part{contentType: ct, filename: name, body: string(body)})
		}
	}
	return mr, parts
}

func TestWrite(t *testing.T) {
	sent := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	msg := store.Message{
		ID:       "<m1@example.com>",
		Subject:  "Quarterly report",
		From:     "Alice <alice@example.com>",
		To:       "bob@example.com; Carol <carol@example.com>",
		Cc:       "undisclosed recipients",
		SentAt:   sent,
		TextBody: "See attached.",
		HTMLBody: "<p>See attached.</p>",
		Attachments: []store.AttachmentRef{
			{Guid: "g1", FileName: "report.pdf", MimeType: "application/pdf"},
			{Guid: "gone", FileName: "lost.txt"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, msg, blobMap{"g1": []byte("%PDF-")}))

	mr, parts := readParts(t, &buf)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	require.Equal(t, "Quarterly report", subject)

	from, err := mr.Header.AddressList("From")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", from[0].Address)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	require.Equal(t, "carol@example.com", to[1].Address)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	require.True(t, sent.Equal(date))

	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	require.Equal(t, "m1@example.com", id)

	require.Equal(t, []part{
		{contentType: "text/plain", body: "See attached."},
		{contentType: "text/html", body: "<p>See attached.</p>"},
		{contentType: "application/pdf", filename: "report.pdf", body: "%PDF-"},
	}, parts, "attachments missing from the store are left out")
}

func TestWriteWithoutBlobs(t *testing.T) {
	msg := store.Message{
		ID:          "m2",
		Subject:     "Only text",
		TextBody:    "hi",
		Attachments: []store.AttachmentRef{{Guid: "g1", FileName: "a.bin"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, msg, nil))

	_, parts := readParts(t, &buf)
	require.Equal(t, []part{{contentType: "text/plain", body: "hi"}}, parts)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "hello.eml", FileName(store.Message{ID: "x", FileName: "hello.eml"}))
	require.Equal(t, "hello.eml", FileName(store.Message{ID: "x", FileName: "hello"}))
	require.Equal(t, "message-x.eml", FileName(store.Message{ID: "x"}))
}
