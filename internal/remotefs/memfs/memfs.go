// Package memfs is an in-memory remotefs.Conn. It behaves like a small SFTP
// server: channels are allocated from a plain counter that relies on the
// caller to serialize OpenChannel, directories must be empty before removal,
// and every call is recorded so tests can assert on traversal order.
package memfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/filessh/internal/remotefs"
)

var (
	ErrNotExist    = errors.New("no such file")
	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrConnClosed  = errors.New("connection closed")
	ErrChanClosed  = errors.New("channel closed")
	ErrExists      = errors.New("file exists")
	defaultModTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type node struct {
	kind remotefs.Kind
	data []byte
	perm os.FileMode
}

// Call is one recorded channel operation.
type Call struct {
	Channel uint64
	Op      string
	Path    string
}

// FS is the in-memory filesystem and the connection to it.
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	home  string
	calls []Call

	readDelay map[string]time.Duration
	listDelay time.Duration
	listErr   map[string]error
	openErr   error
	openDelay time.Duration
	closed    bool

	// nextID is deliberately not atomic: channel allocation is only safe
	// when callers serialize OpenChannel.
	nextID   uint64
	opening  atomic.Int32
	overlaps atomic.Int32
	opened   atomic.Int32
}

// New returns an empty filesystem whose home (the base for relative paths)
// is /root.
func New() *FS {
	fs := &FS{
		nodes:     map[string]*node{"/": {kind: remotefs.KindDir, perm: 0755}},
		home:      "/root",
		readDelay: make(map[string]time.Duration),
		listErr:   make(map[string]error),
	}
	fs.MkdirAll(fs.home)
	return fs
}

func (fs *FS) abs(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(fs.home, p)
	}
	return path.Clean(p)
}

// MkdirAll creates p and any missing parents.
func (fs *FS) MkdirAll(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAllLocked(fs.abs(p))
}

func (fs *FS) mkdirAllLocked(p string) {
	for cur := p; ; cur = path.Dir(cur) {
		if _, ok := fs.nodes[cur]; !ok {
			fs.nodes[cur] = &node{kind: remotefs.KindDir, perm: 0755}
		}
		if cur == "/" {
			return
		}
	}
}

// WriteFile creates or replaces a regular file, creating parents.
func (fs *FS) WriteFile(p string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = fs.abs(p)
	fs.mkdirAllLocked(path.Dir(p))
	fs.nodes[p] = &node{kind: remotefs.KindFile, data: append([]byte(nil), data...), perm: 0644}
}

// Symlink adds a symbolic link entry at p.
func (fs *FS) Symlink(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = fs.abs(p)
	fs.mkdirAllLocked(path.Dir(p))
	fs.nodes[p] = &node{kind: remotefs.KindSymlink, perm: 0777}
}

// SetReadDelay makes ReadAll of p sleep for d first.
func (fs *FS) SetReadDelay(p string, d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.readDelay[fs.abs(p)] = d
}

// SetListDelay makes every ReadDir sleep for d first.
func (fs *FS) SetListDelay(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.listDelay = d
}

// SetListError makes ReadDir of p fail with err.
func (fs *FS) SetListError(p string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.listErr[fs.abs(p)] = err
}

// SetOpenChannelError makes OpenChannel fail with err (nil clears it).
func (fs *FS) SetOpenChannelError(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openErr = err
}

// SetOpenChannelDelay widens the OpenChannel critical section so that
// unserialized callers overlap.
func (fs *FS) SetOpenChannelDelay(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openDelay = d
}

// Exists reports whether p is present.
func (fs *FS) Exists(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.nodes[fs.abs(p)]
	return ok
}

// Calls returns a copy of every recorded operation.
func (fs *FS) Calls() []Call {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Call(nil), fs.calls...)
}

// CallsFor returns the paths of recorded operations named op, in order.
func (fs *FS) CallsFor(op string) []string {
	var out []string
	for _, c := range fs.Calls() {
		if c.Op == op {
			out = append(out, c.Path)
		}
	}
	return out
}

// Overlaps is the number of OpenChannel calls that ran concurrently with
// another one.
func (fs *FS) Overlaps() int { return int(fs.overlaps.Load()) }

// ChannelsOpened is the number of successful OpenChannel calls.
func (fs *FS) ChannelsOpened() int { return int(fs.opened.Load()) }

// Closed reports whether Close was called.
func (fs *FS) Closed() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.closed
}

// OpenChannel implements remotefs.Conn.
func (fs *FS) OpenChannel() (remotefs.Channel, error) {
	if fs.opening.Add(1) > 1 {
		fs.overlaps.Add(1)
	}
	defer fs.opening.Add(-1)

	fs.mu.Lock()
	closed, openErr, delay := fs.closed, fs.openErr, fs.openDelay
	fs.mu.Unlock()
	if closed {
		return nil, ErrConnClosed
	}
	if openErr != nil {
		return nil, openErr
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	id := fs.nextID + 1
	if delay > 0 {
		time.Sleep(delay)
	}
	fs.nextID = id
	fs.opened.Add(1)
	return &channel{fs: fs, id: id}, nil
}

// Ping implements remotefs.Pinger.
func (fs *FS) Ping() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrConnClosed
	}
	return nil
}

// Close implements remotefs.Conn.
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

type channel struct {
	fs     *FS
	id     uint64
	closed atomic.Bool
}

func (c *channel) ID() uint64 { return c.id }

// begin records the call and checks liveness. The caller must unlock fs.mu.
func (c *channel) begin(op, p string) (string, error) {
	c.fs.mu.Lock()
	p = c.fs.abs(p)
	c.fs.calls = append(c.fs.calls, Call{Channel: c.id, Op: op, Path: p})
	if c.fs.closed {
		return p, ErrConnClosed
	}
	if c.closed.Load() {
		return p, ErrChanClosed
	}
	return p, nil
}

func (c *channel) ReadDir(dir string) ([]remotefs.Entry, error) {
	c.fs.mu.Lock()
	delay := c.fs.listDelay
	c.fs.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	dir, err := c.begin("readdir", dir)
	defer c.fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if lerr, ok := c.fs.listErr[dir]; ok {
		return nil, lerr
	}
	n, ok := c.fs.nodes[dir]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotExist)
	}
	if n.kind != remotefs.KindDir {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDir)
	}

	var out []remotefs.Entry
	for p, child := range c.fs.nodes {
		if p == dir || path.Dir(p) != dir {
			continue
		}
		out = append(out, child.entry(path.Base(p)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (n *node) entry(name string) remotefs.Entry {
	mtime := defaultModTime
	attrs := remotefs.Attributes{ModTime: &mtime, Owner: "0"}
	if n.kind == remotefs.KindFile {
		size := uint64(len(n.data))
		attrs.Size = &size
	}
	mode := n.perm
	switch n.kind {
	case remotefs.KindDir:
		mode |= os.ModeDir
	case remotefs.KindSymlink:
		mode |= os.ModeSymlink
	case remotefs.KindOther:
		mode |= os.ModeNamedPipe
	}
	return remotefs.NewEntry(name, mode, attrs)
}

func (c *channel) Open(name string) (remotefs.File, error) {
	p, err := c.begin("open", name)
	defer c.fs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n, ok := c.fs.nodes[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	if n.kind == remotefs.KindDir {
		return nil, fmt.Errorf("%s: %w", p, ErrIsDir)
	}
	return &file{fs: c.fs, path: p, data: append([]byte(nil), n.data...), delay: c.fs.readDelay[p]}, nil
}

func (c *channel) RealPath(name string) (string, error) {
	p, err := c.begin("realpath", name)
	defer c.fs.mu.Unlock()
	if err != nil {
		return "", err
	}
	return p, nil
}

func (c *channel) Rename(oldname, newname string) error {
	oldp, err := c.begin("rename", oldname)
	defer c.fs.mu.Unlock()
	if err != nil {
		return err
	}
	newp := c.fs.abs(newname)
	if _, ok := c.fs.nodes[oldp]; !ok {
		return fmt.Errorf("%s: %w", oldp, ErrNotExist)
	}
	if _, ok := c.fs.nodes[newp]; ok {
		return fmt.Errorf("%s: %w", newp, ErrExists)
	}
	if parent, ok := c.fs.nodes[path.Dir(newp)]; !ok || parent.kind != remotefs.KindDir {
		return fmt.Errorf("%s: %w", path.Dir(newp), ErrNotExist)
	}
	moved := make(map[string]*node)
	for p, n := range c.fs.nodes {
		if p == oldp || strings.HasPrefix(p, oldp+"/") {
			moved[newp+strings.TrimPrefix(p, oldp)] = n
			delete(c.fs.nodes, p)
		}
	}
	for p, n := range moved {
		c.fs.nodes[p] = n
	}
	return nil
}

func (c *channel) Remove(name string) error {
	p, err := c.begin("remove", name)
	defer c.fs.mu.Unlock()
	if err != nil {
		return err
	}
	n, ok := c.fs.nodes[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	if n.kind == remotefs.KindDir {
		return fmt.Errorf("%s: %w", p, ErrIsDir)
	}
	delete(c.fs.nodes, p)
	return nil
}

func (c *channel) RemoveDirectory(name string) error {
	p, err := c.begin("rmdir", name)
	defer c.fs.mu.Unlock()
	if err != nil {
		return err
	}
	n, ok := c.fs.nodes[p]
	if !ok {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	if n.kind != remotefs.KindDir {
		return fmt.Errorf("%s: %w", p, ErrNotDir)
	}
	for other := range c.fs.nodes {
		if other != p && path.Dir(other) == p {
			return fmt.Errorf("%s: %w", p, ErrNotEmpty)
		}
	}
	delete(c.fs.nodes, p)
	return nil
}

func (c *channel) Close() error {
	c.closed.Store(true)
	return nil
}

type file struct {
	fs    *FS
	path  string
	data  []byte
	delay time.Duration
}

func (f *file) ReadAll() ([]byte, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fs.Closed() {
		return nil, ErrConnClosed
	}
	return f.data, nil
}

func (f *file) Close() error { return nil }
