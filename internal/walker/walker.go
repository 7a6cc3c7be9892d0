// Package walker enumerates a remote directory tree with a pool of workers
// that balance load by stealing work from each other.
package walker

import (
	"context"
	"errors"
	"log"
	"path"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
)

// MaxWorkers caps the automatically chosen pool size.
const MaxWorkers = 12

const idleSleep = time.Millisecond

// WalkState tells the walker whether to keep going after a visit.
type WalkState int

const (
	Continue WalkState = iota
	Quit
)

// Visitor receives every entry the walker reaches. err is non-nil when a
// directory could not be listed; entry then carries the directory path.
type Visitor interface {
	Visit(entry remotefs.Entry, err error) WalkState
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(entry remotefs.Entry, err error) WalkState

func (f VisitorFunc) Visit(entry remotefs.Entry, err error) WalkState { return f(entry, err) }

// VisitorFactory builds one Visitor per worker. Visitors are never shared
// between workers, so they need no locking of their own state.
type VisitorFactory func() Visitor

// Filter decides whether a listed child is visited and expanded.
type Filter func(entry remotefs.Entry) bool

// ChannelSource hands out channels on the shared connection.
// sshmanager.Guardian implements it.
type ChannelSource interface {
	AcquireChannel(ctx context.Context) (remotefs.Channel, error)
}

// Options configure a walk.
type Options struct {
	Root string
	// Filter is applied to children only; the root is always walked.
	Filter Filter
	// MaxDepth bounds the walk when non-nil: entries at *MaxDepth are
	// visited but not listed, so 0 visits only the root. nil is unbounded.
	MaxDepth *int
	// Entries shallower than MinDepth are listed but not visited.
	MinDepth int
	// Workers of 0 picks runtime.NumCPU(), capped at MaxWorkers.
	Workers int
}

// Depth returns a MaxDepth bound of n levels. A negative n means unbounded
// and yields nil.
func Depth(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	n := runtime.NumCPU()
	if n > MaxWorkers {
		n = MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Walk visits every entry reachable from opts.Root and returns once all
// workers have stopped. Listing failures go to the visitors and do not stop
// the walk. It returns a KindCanceled error when ctx ended the walk early.
func Walk(ctx context.Context, src ChannelSource, opts Options, factory VisitorFactory) error {
	if src == nil {
		return errors.New("walk: channel source is nil")
	}
	if factory == nil {
		return errors.New("walk: visitor factory is nil")
	}

	root := canonicalRoot(ctx, src, opts.Root)
	n := opts.workers()

	w := &walk{
		ctx:  ctx,
		src:  src,
		opts: opts,
	}
	w.active.Store(int64(n))

	rootItem := &workItem{entry: remotefs.RootEntry(root), cwd: root, depth: 0, root: true}
	stacks := newStacks(n, []message{{work: rootItem}})

	log.Printf("[walker] walking %s with %d workers", logutil.SanitizeForLog(root), n)
	start := time.Now()

	var wg sync.WaitGroup
	for _, s := range stacks {
		wg.Add(1)
		go func(s *stack) {
			defer wg.Done()
			wk := &worker{walk: w, stack: s, visitor: factory()}
			wk.run()
		}(s)
	}
	wg.Wait()

	log.Printf("[walker] finished %s: %d entries, %d listing errors in %s",
		logutil.SanitizeForLog(root), w.visited.Load(), w.listErrors.Load(), time.Since(start).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return remotefs.NewError(remotefs.KindCanceled, "walk", root, err)
	}
	return nil
}

// canonicalRoot resolves relative roots on the server. Failures fall back to
// the cleaned input.
func canonicalRoot(ctx context.Context, src ChannelSource, root string) string {
	if root == "" {
		root = "."
	}
	if path.IsAbs(root) {
		return path.Clean(root)
	}
	ch, err := src.AcquireChannel(ctx)
	if err != nil {
		return path.Clean(root)
	}
	defer ch.Close()
	resolved, err := ch.RealPath(root)
	if err != nil {
		log.Printf("[walker] cannot canonicalize %s: %v", logutil.SanitizeForLog(root), err)
		return path.Clean(root)
	}
	return resolved
}

// walk is the state shared by all workers of one Walk call.
type walk struct {
	ctx  context.Context
	src  ChannelSource
	opts Options

	active  atomic.Int64
	quitNow atomic.Bool

	visited    atomic.Int64
	listErrors atomic.Int64
}

func (w *walk) activate() int64   { return w.active.Add(1) }
func (w *walk) deactivate() int64 { return w.active.Add(-1) }

func (w *walk) stopping() bool {
	return w.quitNow.Load() || w.ctx.Err() != nil
}

type worker struct {
	*walk
	stack   *stack
	visitor Visitor
	channel remotefs.Channel
}

func (wk *worker) run() {
	defer func() {
		if wk.channel != nil {
			wk.channel.Close()
		}
	}()
	for {
		item := wk.get()
		if item == nil {
			return
		}
		if wk.runOne(item) == Quit {
			wk.quitNow.Store(true)
		}
	}
}

// get returns the next work item, or nil once the walk is over. A worker
// that finds nothing deactivates; the one that brings the active count to
// zero announces Quit. Workers re-activate before looking again so a thief
// holding stolen work is always counted as active.
func (wk *worker) get() *workItem {
	m, ok := wk.stack.pop()
	for {
		if wk.stopping() {
			m, ok = quitMessage, true
		}
		if ok {
			if m.isQuit() {
				wk.stack.push(quitMessage)
				return nil
			}
			return m.work
		}
		if wk.deactivate() == 0 {
			wk.stack.push(quitMessage)
		}
		time.Sleep(idleSleep)
		wk.activate()
		m, ok = wk.stack.pop()
	}
}

func (wk *worker) runOne(item *workItem) WalkState {
	p := item.path()
	entry := item.entry.WithPath(p)

	if item.depth >= wk.opts.MinDepth {
		wk.visited.Add(1)
		if wk.visitor.Visit(entry, nil) == Quit {
			return Quit
		}
	}

	if !entry.IsDir() {
		return Continue
	}
	if wk.opts.MaxDepth != nil && item.depth >= *wk.opts.MaxDepth {
		return Continue
	}

	children, err := wk.list(p)
	if err != nil {
		if wk.stopping() {
			return Continue
		}
		wk.listErrors.Add(1)
		return wk.visitor.Visit(entry, remotefs.NewError(remotefs.KindListing, "readdir", p, err))
	}

	// Pushed in reverse so the worker pops children in listing order.
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if wk.opts.Filter != nil && !wk.opts.Filter(child) {
			continue
		}
		wk.stack.push(message{work: &workItem{entry: child, cwd: p, depth: item.depth + 1}})
	}
	return Continue
}

// list reads one directory on the worker's channel, acquiring the channel on
// first use.
func (wk *worker) list(dir string) ([]remotefs.Entry, error) {
	if wk.channel == nil {
		ch, err := wk.src.AcquireChannel(wk.ctx)
		if err != nil {
			return nil, err
		}
		wk.channel = ch
	}
	return wk.channel.ReadDir(dir)
}
