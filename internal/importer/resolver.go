package importer

import (
	"strings"

	"github.io/infrasutra/mailshelf/internal/archive"
	"github.io/infrasutra/mailshelf/internal/export"
	"github.io/infrasutra/mailshelf/internal/store"
)

// Folder is a folder selected for import. Alias doubles as the folder id and
// as the archive path prefix of its documents.
type Folder struct {
	Alias  string
	Prefix string
}

// ResolveFolders decides which folders to import. The manifest, when given,
// is only a hint: declared folders whose message document cannot be found
// are skipped, and when none remain the whole archive is scanned instead.
func ResolveFolders(a *archive.Archive, manifest *store.Manifest) []Folder {
	var folders []Folder
	if manifest != nil {
		folders = fromManifest(a, manifest)
	}
	if len(folders) == 0 {
		folders = scan(a)
	}
	return folders
}

func fromManifest(a *archive.Archive, manifest *store.Manifest) []Folder {
	seen := make(map[string]struct{})
	var folders []Folder
	for _, declared := range manifest.Folders {
		var alias string
		switch {
		case declared.SafeName != "" && a.Has(export.MessagesPath(declared.SafeName)):
			alias = declared.SafeName
		case declared.Name != "" && a.Has(export.MessagesPath(declared.Name)):
			alias = declared.Name
		default:
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		folders = append(folders, Folder{Alias: alias, Prefix: alias + "/"})
	}
	return folders
}

func scan(a *archive.Archive) []Folder {
	marker := "/" + export.MessagesName
	seen := make(map[string]struct{})
	var folders []Folder
	for _, name := range a.Names() {
		if !strings.Contains(name, marker) {
			continue
		}
		alias, _, _ := strings.Cut(name, "/")
		if alias == "" || alias == export.AttachmentsAlias {
			continue
		}
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		folders = append(folders, Folder{Alias: alias, Prefix: alias + "/"})
	}
	return folders
}
