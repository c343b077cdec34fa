package importer

import (
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/mailshelf/internal/store"
)

// topSenderLimit caps TopSenders on synthesized folders.
const topSenderLimit = 10

// synthesizeFolder builds the folder record for a folder that ships without
// folder-info.json, so its messages never point at a missing folder.
func synthesizeFolder(alias string, messages []store.Message, manifest *store.Manifest) store.Folder {
	folder := store.Folder{
		ID:         alias,
		FolderName: alias,
		EmailCount: len(messages),
	}
	if manifest != nil {
		folder.ExportDate = manifest.ExportDate
		for _, declared := range manifest.Folders {
			if declared.SafeName == alias || declared.Name == alias {
				if declared.Name != "" {
					folder.FolderName = declared.Name
				}
				break
			}
		}
	}

	var earliest, latest *store.Message
	for i := range messages {
		m := &messages[i]
		folder.AttachmentCount += len(m.Attachments)
		if m.SentAt.IsZero() {
			continue
		}
		if earliest == nil || m.SentAt.Before(earliest.SentAt) {
			earliest = m
		}
		if latest == nil || m.SentAt.After(latest.SentAt) {
			latest = m
		}
	}
	if earliest != nil {
		folder.DateRange.Earliest = earliest.Date
		folder.DateRange.Latest = latest.Date
	}
	folder.TopSenders = topSenders(messages, topSenderLimit)
	return folder
}

// topSenders ranks senders by message count. Messages are grouped by the
// bare address when the From field parses, otherwise by the trimmed text.
func topSenders(messages []store.Message, limit int) []store.SenderCount {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, m := range messages {
		key, label := senderKey(m.From)
		if key == "" {
			continue
		}
		if _, ok := display[key]; !ok {
			display[key] = label
		}
		counts[key]++
	}

	senders := make([]store.SenderCount, 0, len(counts))
	for key, count := range counts {
		senders = append(senders, store.SenderCount{Sender: display[key], Count: count})
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Count != senders[j].Count {
			return senders[i].Count > senders[j].Count
		}
		return senders[i].Sender < senders[j].Sender
	})
	if len(senders) > limit {
		senders = senders[:limit]
	}
	return senders
}

// senderKey returns the lower-cased address used for grouping and the text
// shown for it.
func senderKey(from string) (key, label string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(from); err == nil && addr.Address != "" {
		return strings.ToLower(addr.Address), from
	}
	return strings.ToLower(from), from
}
