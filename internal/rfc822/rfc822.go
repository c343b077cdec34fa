// Package rfc822 renders stored messages back into RFC 5322 form.
package rfc822

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailshelf/internal/store"
)

// Blobs resolves attachment bytes by guid.
type Blobs interface {
	GetAttachment(ctx context.Context, guid string) (store.Attachment, error)
}

// Write renders m to w as a multipart/mixed message. Attachments whose blob
// is missing from the store are left out. blobs may be nil, in which case
// no attachment is written.
func Write(ctx context.Context, w io.Writer, m store.Message, blobs Blobs) error {
	var h mail.Header
	setAddresses(&h, "From", m.From)
	setAddresses(&h, "To", m.To)
	setAddresses(&h, "Cc", m.Cc)
	setAddresses(&h, "Bcc", m.Bcc)
	h.SetSubject(m.Subject)
	if !m.SentAt.IsZero() {
		h.SetDate(m.SentAt)
	}
	if id := strings.Trim(m.ID, "<> "); id != "" {
		h.SetMessageID(id)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	if m.TextBody != "" || m.HTMLBody != "" {
		if err := writeBodies(mw, m); err != nil {
			return err
		}
	}

	if blobs != nil {
		for _, ref := range m.Attachments {
			blob, err := blobs.GetAttachment(ctx, ref.Guid)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load attachment %s: %w", ref.Guid, err)
			}
			if err := writeAttachment(mw, ref, blob.Data); err != nil {
				return err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// FileName is the download name for the rendered message.
func FileName(m store.Message) string {
	if name := strings.TrimSpace(m.FileName); name != "" {
		if strings.HasSuffix(strings.ToLower(name), ".eml") {
			return name
		}
		return name + ".eml"
	}
	return "message-" + m.ID + ".eml"
}

func writeBodies(mw *mail.Writer, m store.Message) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline: %w", err)
	}
	if m.TextBody != "" {
		if err := writeInline(iw, "text/plain", m.TextBody); err != nil {
			return err
		}
	}
	if m.HTMLBody != "" {
		if err := writeInline(iw, "text/html", m.HTMLBody); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close inline: %w", err)
	}
	return nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func writeAttachment(mw *mail.Writer, ref store.AttachmentRef, data []byte) error {
	var h mail.AttachmentHeader
	contentType := ref.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.SetContentType(contentType, nil)
	name := ref.FileName
	if name == "" {
		name = ref.Guid
	}
	h.SetFilename(name)
	aw, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("create attachment %s: %w", ref.Guid, err)
	}
	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("write attachment %s: %w", ref.Guid, err)
	}
	return aw.Close()
}

func setAddresses(h *mail.Header, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	list, err := mail.ParseAddressList(strings.ReplaceAll(value, ";", ","))
	if err == nil && len(list) > 0 {
		h.SetAddressList(key, list)
		return
	}
	h.SetText(key, value)
}
