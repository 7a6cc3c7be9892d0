package remotefs

import (
	"path"
	"strings"
)

// Conn is one authenticated connection to a remote host. OpenChannel mutates
// connection state and must be serialized by the caller (see
// sshmanager.Guardian); using an open Channel is independent per channel.
type Conn interface {
	OpenChannel() (Channel, error)
	Close() error
}

// Pinger is implemented by connections that support a liveness check.
type Pinger interface {
	Ping() error
}

// Channel is an SFTP-capable logical channel multiplexed over a Conn.
type Channel interface {
	// ID is a label the Conn assigns when opening the channel, unique per
	// Conn. It is not the protocol's channel number.
	ID() uint64
	ReadDir(dir string) ([]Entry, error)
	Open(name string) (File, error)
	RealPath(name string) (string, error)
	Rename(oldname, newname string) error
	Remove(name string) error
	RemoveDirectory(name string) error
	Close() error
}

// File is an open remote file.
type File interface {
	ReadAll() ([]byte, error)
	Close() error
}

// Join composes a remote path. Remote paths always use forward slashes,
// whatever the local OS is.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// RelativeTo strips root from p and returns the remainder without a leading
// slash. It reports false when p is not inside root.
func RelativeTo(root, p string) (string, bool) {
	root = path.Clean(root)
	p = path.Clean(p)
	if p == root {
		return "", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return strings.TrimPrefix(p, prefix), true
}
