package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS folders (
            id TEXT PRIMARY KEY,
            folder_name TEXT NOT NULL,
            export_date TEXT NOT NULL,
            email_count INTEGER NOT NULL,
            attachment_count INTEGER NOT NULL,
            earliest TEXT NOT NULL,
            latest TEXT NOT NULL,
            top_senders TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            folder_id TEXT NOT NULL,
            subject TEXT NOT NULL,
            from_addr TEXT NOT NULL,
            to_addr TEXT NOT NULL,
            cc TEXT NOT NULL,
            bcc TEXT NOT NULL,
            date TEXT NOT NULL,
            sent_at INTEGER NOT NULL,
            text_body TEXT,
            html_body TEXT,
            attachments TEXT NOT NULL,
            has_attachments INTEGER NOT NULL,
            file_name TEXT NOT NULL,
            is_read INTEGER NOT NULL DEFAULT 0,
            FOREIGN KEY(folder_id) REFERENCES folders(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS manifest (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            export_date TEXT NOT NULL,
            total_folders INTEGER NOT NULL,
            total_emails INTEGER NOT NULL,
            total_attachments INTEGER NOT NULL,
            folders TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS attachments (
            guid TEXT PRIMARY KEY,
            data BLOB NOT NULL,
            size INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_folder_sent ON messages(folder_id, sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_addr);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_subject ON messages(subject);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_read ON messages(is_read);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Clear empties all four collections. It is safe on an empty store.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "folders", "manifest", "attachments"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+";"); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func (s *Store) PutManifest(ctx context.Context, manifest Manifest) error {
	folders, err := json.Marshal(nonNil(manifest.Folders))
	if err != nil {
		return fmt.Errorf("encode manifest folders: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO manifest
        (id, export_date, total_folders, total_emails, total_attachments, folders)
        VALUES (1, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            export_date = excluded.export_date,
            total_folders = excluded.total_folders,
            total_emails = excluded.total_emails,
            total_attachments = excluded.total_attachments,
            folders = excluded.folders;`,
		manifest.ExportDate,
		manifest.TotalFolders,
		manifest.TotalEmails,
		manifest.TotalAttachments,
		string(folders),
	)
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context) (Manifest, error) {
	var manifest Manifest
	var folders string
	row := s.db.QueryRowContext(ctx, `SELECT export_date, total_folders, total_emails, total_attachments, folders
        FROM manifest WHERE id = 1;`)
	if err := row.Scan(
		&manifest.ExportDate,
		&manifest.TotalFolders,
		&manifest.TotalEmails,
		&manifest.TotalAttachments,
		&folders,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manifest{}, ErrNotFound
		}
		return Manifest{}, fmt.Errorf("get manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(folders), &manifest.Folders); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest folders: %w", err)
	}
	return manifest, nil
}

func (s *Store) PutFolder(ctx context.Context, folder Folder) error {
	senders, err := json.Marshal(nonNil(folder.TopSenders))
	if err != nil {
		return fmt.Errorf("encode top senders: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO folders
        (id, folder_name, export_date, email_count, attachment_count, earliest, latest, top_senders)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            folder_name = excluded.folder_name,
            export_date = excluded.export_date,
            email_count = excluded.email_count,
            attachment_count = excluded.attachment_count,
            earliest = excluded.earliest,
            latest = excluded.latest,
            top_senders = excluded.top_senders;`,
		folder.ID,
		folder.FolderName,
		folder.ExportDate,
		folder.EmailCount,
		folder.AttachmentCount,
		folder.DateRange.Earliest,
		folder.DateRange.Latest,
		string(senders),
	)
	if err != nil {
		return fmt.Errorf("put folder: %w", err)
	}
	return nil
}

const folderColumns = `id, folder_name, export_date, email_count, attachment_count, earliest, latest, top_senders`

// ListFolders returns folders in the order they were imported.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

func (s *Store) GetFolder(ctx context.Context, id string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?;`, id)
	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, ErrNotFound
		}
		return Folder{}, fmt.Errorf("get folder: %w", err)
	}
	return folder, nil
}

// PutMessages writes a batch of messages in one transaction. A message whose
// id already exists is replaced.
func (s *Store) PutMessages(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages
        (id, folder_id, subject, from_addr, to_addr, cc, bcc, date, sent_at,
         text_body, html_body, attachments, has_attachments, file_name, is_read)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            folder_id = excluded.folder_id,
            subject = excluded.subject,
            from_addr = excluded.from_addr,
            to_addr = excluded.to_addr,
            cc = excluded.cc,
            bcc = excluded.bcc,
            date = excluded.date,
            sent_at = excluded.sent_at,
            text_body = excluded.text_body,
            html_body = excluded.html_body,
            attachments = excluded.attachments,
            has_attachments = excluded.has_attachments,
            file_name = excluded.file_name,
            is_read = excluded.is_read;`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, message := range messages {
		attachments, err := json.Marshal(nonNil(message.Attachments))
		if err != nil {
			return fmt.Errorf("encode attachments of %s: %w", message.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			message.ID,
			message.FolderID,
			message.Subject,
			message.From,
			message.To,
			message.Cc,
			message.Bcc,
			message.Date,
			unixOrZero(message.SentAt),
			message.TextBody,
			message.HTMLBody,
			string(attachments),
			message.HasAttachments,
			message.FileName,
			message.IsRead,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", message.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

const messageColumns = `id, folder_id, subject, from_addr, to_addr, cc, bcc, date, sent_at,
    text_body, html_body, attachments, has_attachments, file_name, is_read`

// ListMessagesByFolder returns a folder's messages newest first.
func (s *Store) ListMessagesByFolder(ctx context.Context, folderID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+`
        FROM messages
        WHERE folder_id = ?
        ORDER BY sent_at DESC, id ASC;`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?;`, id)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

func (s *Store) SetRead(ctx context.Context, id string, read bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = ? WHERE id = ?;`, read, id)
	if err != nil {
		return fmt.Errorf("set read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set read: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) PutAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO attachments (guid, data, size)
        VALUES (?, ?, ?)
        ON CONFLICT(guid) DO UPDATE SET data = excluded.data, size = excluded.size;`,
		attachment.Guid,
		nonNilBytes(attachment.Data),
		int64(len(attachment.Data)),
	)
	if err != nil {
		return fmt.Errorf("put attachment: %w", err)
	}
	return nil
}

func (s *Store) GetAttachment(ctx context.Context, guid string) (Attachment, error) {
	var attachment Attachment
	row := s.db.QueryRowContext(ctx, `SELECT guid, data, size FROM attachments WHERE guid = ?;`, guid)
	if err := row.Scan(&attachment.Guid, &attachment.Data, &attachment.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attachment{}, ErrNotFound
		}
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return attachment, nil
}

// FindAttachmentRef returns the first attachment reference to guid held by
// any message.
func (s *Store) FindAttachmentRef(ctx context.Context, guid string) (AttachmentRef, error) {
	var ref AttachmentRef
	row := s.db.QueryRowContext(ctx, `SELECT
            json_extract(a.value, '$.Guid'),
            COALESCE(json_extract(a.value, '$.FileName'), ''),
            COALESCE(json_extract(a.value, '$.MimeType'), ''),
            COALESCE(json_extract(a.value, '$.Size'), 0)
        FROM messages m, json_each(m.attachments) a
        WHERE json_extract(a.value, '$.Guid') = ?
        LIMIT 1;`, guid)
	if err := row.Scan(&ref.Guid, &ref.FileName, &ref.MimeType, &ref.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AttachmentRef{}, ErrNotFound
		}
		return AttachmentRef{}, fmt.Errorf("find attachment ref: %w", err)
	}
	return ref, nil
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	var manifests int
	row := s.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(1) FROM folders),
        (SELECT COUNT(1) FROM messages),
        (SELECT COUNT(1) FROM attachments),
        (SELECT COUNT(1) FROM manifest);`)
	if err := row.Scan(&counts.Folders, &counts.Messages, &counts.Attachments, &manifests); err != nil {
		return Counts{}, fmt.Errorf("count collections: %w", err)
	}
	counts.Manifest = manifests > 0
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner) (Folder, error) {
	var folder Folder
	var senders string
	if err := row.Scan(
		&folder.ID,
		&folder.FolderName,
		&folder.ExportDate,
		&folder.EmailCount,
		&folder.AttachmentCount,
		&folder.DateRange.Earliest,
		&folder.DateRange.Latest,
		&senders,
	); err != nil {
		return Folder{}, err
	}
	if err := json.Unmarshal([]byte(senders), &folder.TopSenders); err != nil {
		return Folder{}, fmt.Errorf("decode top senders: %w", err)
	}
	return folder, nil
}

func scanMessage(row scanner) (Message, error) {
	var message Message
	var sentAt int64
	var textBody, htmlBody sql.NullString
	var attachments string
	if err := row.Scan(
		&message.ID,
		&message.FolderID,
		&message.Subject,
		&message.From,
		&message.To,
		&message.Cc,
		&message.Bcc,
		&message.Date,
		&sentAt,
		&textBody,
		&htmlBody,
		&attachments,
		&message.HasAttachments,
		&message.FileName,
		&message.IsRead,
	); err != nil {
		return Message{}, err
	}
	if sentAt != 0 {
		message.SentAt = time.Unix(sentAt, 0).UTC()
	}
	message.TextBody = textBody.String
	message.HTMLBody = htmlBody.String
	if err := json.Unmarshal([]byte(attachments), &message.Attachments); err != nil {
		return Message{}, fmt.Errorf("decode attachments of %s: %w", message.ID, err)
	}
	return message, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func nonNilBytes(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
