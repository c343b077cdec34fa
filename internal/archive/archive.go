// Package archive reads the ZIP container produced by the mail exporter.
// Entries are decompressed one at a time when they are opened, so the
// archive is never held in memory as a whole.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrCorrupt is returned when the central directory cannot be parsed.
var ErrCorrupt = errors.New("archive corrupt")

// Entry is a single path inside the archive.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64

	file *zip.File
}

// Open returns a reader for the decompressed entry content.
func (e Entry) Open() (io.ReadCloser, error) {
	if e.IsDir {
		return nil, fmt.Errorf("open %s: is a directory", e.Name)
	}
	return e.file.Open()
}

type Archive struct {
	entries []Entry
	byName  map[string]int
	closer  io.Closer
}

// Open parses the central directory of the archive stored in r.
func Open(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return newArchive(zr.File, nil), nil
}

// OpenFile opens the archive at path. The caller must Close it.
func OpenFile(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return newArchive(rc.File, rc), nil
}

func newArchive(files []*zip.File, closer io.Closer) *Archive {
	a := &Archive{
		entries: make([]Entry, 0, len(files)),
		byName:  make(map[string]int, len(files)),
		closer:  closer,
	}
	for _, f := range files {
		info := f.FileInfo()
		entry := Entry{
			Name:  f.Name,
			IsDir: info.IsDir(),
			Size:  int64(f.UncompressedSize64),
			file:  f,
		}
		if _, dup := a.byName[f.Name]; dup {
			continue
		}
		a.byName[f.Name] = len(a.entries)
		a.entries = append(a.entries, entry)
	}
	return a
}

func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Len reports the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Names returns every entry path in central directory order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.Name)
	}
	return names
}

// Has reports whether a non-directory entry named name exists.
func (a *Archive) Has(name string) bool {
	e, ok := a.Entry(name)
	return ok && !e.IsDir
}

func (a *Archive) Entry(name string) (Entry, bool) {
	idx, ok := a.byName[name]
	if !ok {
		return Entry{}, false
	}
	return a.entries[idx], true
}

// List returns the entries whose path lies under prefix, in archive order.
// The prefix directory entry itself is not included.
func (a *Archive) List(prefix string) []Entry {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []Entry
	for _, e := range a.entries {
		if !strings.HasPrefix(e.Name, prefix) || e.Name == prefix {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ReadBytes decodes the named entry fully.
func (a *Archive) ReadBytes(name string) ([]byte, error) {
	e, ok := a.Entry(name)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	return readEntry(e)
}

// ReadText decodes the named entry as text. The boolean is false when the
// entry does not exist; that is not an error.
func (a *Archive) ReadText(name string) (string, bool, error) {
	e, ok := a.Entry(name)
	if !ok || e.IsDir {
		return "", false, nil
	}
	data, err := readEntry(e)
	if err != nil {
		return "", true, err
	}
	return string(data), true, nil
}

// ErrNotFound is returned by ReadBytes for a missing entry.
var ErrNotFound = errors.New("entry not found")

func readEntry(e Entry) ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}
	return data, nil
}
