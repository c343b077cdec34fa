package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a manifest, message document or folder-info document
	// that could not be decoded. It aborts the import.
	ErrParse = errors.New("import parse error")

	// ErrAttachmentRead marks a single attachment blob that could not be
	// extracted or stored. It does not abort the import.
	ErrAttachmentRead = errors.New("attachment read error")
)

// ParseError names the folder and entry whose document failed to decode.
// Folder is empty for the manifest.
type ParseError struct {
	Folder string
	Entry  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Folder == "" {
		return fmt.Sprintf("%s: %s: %v", ErrParse, e.Entry, e.Err)
	}
	return fmt.Sprintf("%s: folder %q (%s): %v", ErrParse, e.Folder, e.Entry, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// AttachmentError names the attachment blob that could not be stored.
type AttachmentError struct {
	Guid string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAttachmentRead, e.Guid, e.Err)
}

func (e *AttachmentError) Unwrap() []error {
	return []error{ErrAttachmentRead, e.Err}
}
