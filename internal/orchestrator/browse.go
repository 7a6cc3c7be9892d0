package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/walker"
)

// ListDirectory canonicalizes p and lists it, directories first and then by
// name. An empty p means the remote home directory.
func (o *Orchestrator) ListDirectory(ctx context.Context, p string) (string, []remotefs.Entry, error) {
	if p == "" {
		p = "."
	}
	ch, err := o.src.AcquireChannel(ctx)
	if err != nil {
		return "", nil, err
	}
	defer ch.Close()

	dir := p
	if resolved, err := ch.RealPath(p); err == nil && resolved != "" {
		dir = resolved
	}
	entries, err := ch.ReadDir(dir)
	if err != nil {
		return dir, nil, remotefs.NewError(remotefs.KindListing, "readdir", dir, err)
	}
	for i := range entries {
		entries[i] = entries[i].WithPath(remotefs.Join(dir, entries[i].Name))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
	return dir, entries, nil
}

// FilterByName keeps the entries whose name contains substr. Matching is
// case sensitive and an empty substr keeps everything.
func FilterByName(entries []remotefs.Entry, substr string) []remotefs.Entry {
	if substr == "" {
		return entries
	}
	var out []remotefs.Entry
	for _, e := range entries {
		if strings.Contains(e.Name, substr) {
			out = append(out, e)
		}
	}
	return out
}

// ReadFile fetches the remote file at p for previewing. text is false when
// the contents are not valid UTF-8; content is then empty.
func (o *Orchestrator) ReadFile(ctx context.Context, p string) (content string, text bool, err error) {
	ch, err := o.src.AcquireChannel(ctx)
	if err != nil {
		return "", false, err
	}
	defer ch.Close()

	f, err := ch.Open(p)
	if err != nil {
		return "", false, remotefs.NewError(remotefs.KindTransfer, "open", p, err)
	}
	defer f.Close()
	data, err := f.ReadAll()
	if err != nil {
		return "", false, remotefs.NewError(remotefs.KindTransfer, "read", p, err)
	}
	if !utf8.Valid(data) {
		return "", false, nil
	}
	return string(data), true, nil
}

// Tree walks root with the configured worker count and calls fn for every
// visited entry or listing error. Calls to fn are serialized.
func (o *Orchestrator) Tree(ctx context.Context, root string, maxDepth *int, fn func(entry remotefs.Entry, err error)) error {
	var mu sync.Mutex
	factory := func() walker.Visitor {
		return walker.VisitorFunc(func(entry remotefs.Entry, err error) walker.WalkState {
			mu.Lock()
			fn(entry, err)
			mu.Unlock()
			return walker.Continue
		})
	}
	opts := walker.Options{Root: root, MaxDepth: maxDepth, Workers: o.opts.Workers}
	return walker.Walk(ctx, o.src, opts, factory)
}
