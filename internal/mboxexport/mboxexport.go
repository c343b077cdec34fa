// Package mboxexport writes the messages of a stored folder as an mbox file.
package mboxexport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailshelf/internal/rfc822"
	"github.io/infrasutra/mailshelf/internal/store"
)

const unknownSender = "MAILER-DAEMON"

// Source is the subset of the store an export reads from.
type Source interface {
	GetFolder(ctx context.Context, id string) (store.Folder, error)
	ListMessagesByFolder(ctx context.Context, folderID string) ([]store.Message, error)
	rfc822.Blobs
}

// Options controls an export.
type Options struct {
	// WithAttachments embeds attachment blobs in each message.
	WithAttachments bool
}

// WriteFolder writes every message of folderID to w in newest-first order and
// returns the number of messages written.
func WriteFolder(ctx context.Context, src Source, folderID string, w io.Writer, opts Options) (int, error) {
	if _, err := src.GetFolder(ctx, folderID); err != nil {
		return 0, fmt.Errorf("get folder %q: %w", folderID, err)
	}
	messages, err := src.ListMessagesByFolder(ctx, folderID)
	if err != nil {
		return 0, fmt.Errorf("list messages of %q: %w", folderID, err)
	}

	var blobs rfc822.Blobs
	if opts.WithAttachments {
		blobs = src
	}

	mw := mbox.NewWriter(w)
	written := 0
	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		date := m.SentAt
		if date.IsZero() {
			date = time.Unix(0, 0).UTC()
		}
		part, err := mw.CreateMessage(envelopeSender(m.From), date)
		if err != nil {
			return written, fmt.Errorf("create mbox entry %s: %w", m.ID, err)
		}
		if err := rfc822.Write(ctx, part, m, blobs); err != nil {
			return written, fmt.Errorf("render message %s: %w", m.ID, err)
		}
		written++
	}
	if err := mw.Close(); err != nil {
		return written, fmt.Errorf("close mbox: %w", err)
	}
	return written, nil
}

// envelopeSender picks the bare address for the mbox "From " line, which
// must be a single token.
func envelopeSender(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return unknownSender
	}
	if addr, err := mail.ParseAddress(from); err == nil && addr.Address != "" {
		return addr.Address
	}
	if fields := strings.Fields(from); len(fields) == 1 {
		return fields[0]
	}
	return unknownSender
}
