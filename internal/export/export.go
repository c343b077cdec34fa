// Package export decodes the JSON documents found in a mail export archive
// into store records. Field presence is validated here so that nothing
// downstream has to deal with half-filled records.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.io/infrasutra/mailshelf/internal/store"
)

// Well-known archive paths.
const (
	ManifestName     = "export-index.json"
	MessagesName     = "emails.json"
	FolderInfoName   = "folder-info.json"
	AttachmentsAlias = "attachments"
)

// ErrMissingField reports a required field that was absent or empty.
var ErrMissingField = errors.New("missing required field")

// MessagesPath returns the path of a folder's message document.
func MessagesPath(alias string) string {
	return alias + "/" + MessagesName
}

// FolderInfoPath returns the path of a folder's metadata document.
func FolderInfoPath(alias string) string {
	return alias + "/" + FolderInfoName
}

type manifestDoc struct {
	ExportDate       string                 `json:"ExportDate"`
	TotalFolders     int                    `json:"TotalFolders"`
	TotalEmails      int                    `json:"TotalEmails"`
	TotalAttachments int                    `json:"TotalAttachments"`
	Folders          []store.ManifestFolder `json:"Folders"`
}

// DecodeManifest decodes export-index.json. Every declared folder must carry
// a Name or a SafeName.
func DecodeManifest(data []byte) (store.Manifest, error) {
	var doc manifestDoc
	if err := decode(data, &doc); err != nil {
		return store.Manifest{}, err
	}
	for i, f := range doc.Folders {
		if strings.TrimSpace(f.Name) == "" && strings.TrimSpace(f.SafeName) == "" {
			return store.Manifest{}, fmt.Errorf("Folders[%d]: %w: Name or SafeName", i, ErrMissingField)
		}
	}
	return store.Manifest{
		ExportDate:       doc.ExportDate,
		TotalFolders:     doc.TotalFolders,
		TotalEmails:      doc.TotalEmails,
		TotalAttachments: doc.TotalAttachments,
		Folders:          doc.Folders,
	}, nil
}

type folderDoc struct {
	FolderName      string              `json:"FolderName"`
	ExportDate      string              `json:"ExportDate"`
	EmailCount      int                 `json:"EmailCount"`
	AttachmentCount int                 `json:"AttachmentCount"`
	DateRange       store.DateRange     `json:"DateRange"`
	TopSenders      []store.SenderCount `json:"TopSenders"`
}

// DecodeFolderInfo decodes a folder-info.json document and attaches alias as
// the folder id.
func DecodeFolderInfo(alias string, data []byte) (store.Folder, error) {
	var doc folderDoc
	if err := decode(data, &doc); err != nil {
		return store.Folder{}, err
	}
	name := doc.FolderName
	if strings.TrimSpace(name) == "" {
		name = alias
	}
	return store.Folder{
		ID:              alias,
		FolderName:      name,
		ExportDate:      doc.ExportDate,
		EmailCount:      doc.EmailCount,
		AttachmentCount: doc.AttachmentCount,
		DateRange:       doc.DateRange,
		TopSenders:      doc.TopSenders,
	}, nil
}

type messageDoc struct {
	ID             string                `json:"Id"`
	Subject        string                `json:"Subject"`
	From           string                `json:"From"`
	To             string                `json:"To"`
	Cc             string                `json:"Cc"`
	Bcc            string                `json:"Bcc"`
	Date           string                `json:"Date"`
	TextBody       string                `json:"TextBody"`
	HTMLBody       string                `json:"HtmlBody"`
	Attachments    []store.AttachmentRef `json:"Attachments"`
	HasAttachments bool                  `json:"HasAttachments"`
	FileName       string                `json:"FileName"`
}

// DecodeMessages decodes an emails.json document. The returned messages have
// no folder id yet and are unread.
func DecodeMessages(data []byte) ([]store.Message, error) {
	var docs []messageDoc
	if err := decode(data, &docs); err != nil {
		return nil, err
	}
	messages := make([]store.Message, 0, len(docs))
	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return nil, fmt.Errorf("message %d: %w: Id", i, ErrMissingField)
		}
		for j, ref := range doc.Attachments {
			if strings.TrimSpace(ref.Guid) == "" {
				return nil, fmt.Errorf("message %s attachment %d: %w: Guid", doc.ID, j, ErrMissingField)
			}
		}
		messages = append(messages, store.Message{
			ID:             doc.ID,
			Subject:        doc.Subject,
			From:           doc.From,
			To:             doc.To,
			Cc:             doc.Cc,
			Bcc:            doc.Bcc,
			Date:           doc.Date,
			SentAt:         ParseDate(doc.Date),
			TextBody:       doc.TextBody,
			HTMLBody:       doc.HTMLBody,
			Attachments:    doc.Attachments,
			HasAttachments: doc.HasAttachments || len(doc.Attachments) > 0,
			FileName:       doc.FileName,
		})
	}
	return messages, nil
}

var utf8BOM = []byte("\xef\xbb\xbf")

// decode accepts documents written with a leading UTF-8 byte order mark.
func decode(data []byte, v any) error {
	data = bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(data), utf8BOM))
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode json: trailing data after document")
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParseDate parses the timestamp formats seen in exports. Unparseable input
// yields the zero time.
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
