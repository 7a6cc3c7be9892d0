// Package remotefs defines the remote filesystem model shared by the walker,
// the transfer worker and the orchestration layer, together with the narrow
// client capability they consume.
//
// The concrete SSH/SFTP implementation lives in sshclient; tests use memfs.
package remotefs

import (
	"os"
	"time"

	"github.com/docker/go-units"
)

// Kind classifies a remote entry. It is decided once from the protocol's
// file-type field and never recomputed.
type Kind int

const (
	KindOther Kind = iota
	KindDir
	KindFile
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// KindFromMode maps the type bits of an os.FileMode onto a Kind.
func KindFromMode(mode os.FileMode) Kind {
	switch {
	case mode&os.ModeDir != 0:
		return KindDir
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// Attributes holds the optional metadata reported by a listing.
type Attributes struct {
	Size    *uint64
	ModTime *time.Time
	Owner   string // empty when the server does not report it
	Perm    os.FileMode
}

// Entry is one remote filesystem object. Entries are values: they are never
// mutated after construction and may be copied between goroutines freely.
type Entry struct {
	// Name is the last path component as returned by the listing.
	Name string
	// Path is the absolute remote path, filled in when the producer knows it
	// (walker visits, orchestrator listings). Empty otherwise.
	Path  string
	Kind  Kind
	Attrs Attributes
}

// NewEntry builds an entry from listing data.
func NewEntry(name string, mode os.FileMode, attrs Attributes) Entry {
	attrs.Perm = mode.Perm()
	return Entry{Name: name, Kind: KindFromMode(mode), Attrs: attrs}
}

// RootEntry synthesizes the directory sentinel a traversal starts from.
func RootEntry(path string) Entry {
	return Entry{Name: path, Path: path, Kind: KindDir}
}

// WithPath returns a copy of e carrying the given absolute path.
func (e Entry) WithPath(p string) Entry {
	e.Path = p
	return e
}

func (e Entry) IsDir() bool     { return e.Kind == KindDir }
func (e Entry) IsFile() bool    { return e.Kind == KindFile }
func (e Entry) IsSymlink() bool { return e.Kind == KindSymlink }

// Size returns the reported size, or 0 when unknown.
func (e Entry) Size() uint64 {
	if e.Attrs.Size == nil {
		return 0
	}
	return *e.Attrs.Size
}

// TypeLabel is the short upper-case label used in detail views.
func (e Entry) TypeLabel() string {
	switch e.Kind {
	case KindDir:
		return "DIR"
	case KindFile:
		return "FILE"
	case KindSymlink:
		return "SYMLINK"
	default:
		return "UNKNOWN"
	}
}

// HumanSize formats the size with binary units, e.g. "1.5KiB".
func (e Entry) HumanSize() string {
	if e.Attrs.Size == nil {
		return "N/A"
	}
	return units.BytesSize(float64(*e.Attrs.Size))
}

// ModTimeString formats the modification time in UTC, or "N/A".
func (e Entry) ModTimeString() string {
	if e.Attrs.ModTime == nil {
		return "N/A"
	}
	return e.Attrs.ModTime.UTC().Format("2006-01-02 15:04:05")
}

// PermString renders the permission bits in ls style with the type prefix,
// e.g. "drwxr-xr-x".
func (e Entry) PermString() string {
	mode := e.Attrs.Perm.Perm()
	switch e.Kind {
	case KindDir:
		mode |= os.ModeDir
	case KindSymlink:
		mode |= os.ModeSymlink
	}
	return mode.String()
}
