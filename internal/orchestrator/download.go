package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshaudit"
	"github.com/gluk-w/filessh/internal/transfer"
	"github.com/gluk-w/filessh/internal/walker"
)

// previewSize is how many pending entries an EventNextEntries carries.
const previewSize = 5

type EventType int

const (
	// EventStarted carries Total, the number of files to transfer.
	EventStarted EventType = iota
	// EventNextEntries previews the file about to be transferred and the
	// ones after it.
	EventNextEntries
	// EventProgressed is sent once per file, failed or not.
	EventProgressed
	EventCompleted
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventNextEntries:
		return "next_entries"
	case EventProgressed:
		return "progressed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one progress report of a recursive download.
type Event struct {
	Type EventType
	// OperationID is shared by all events of one download.
	OperationID string
	Total       int
	Done        int
	Failed      int
	Fraction    float64
	// Path is the remote file an EventProgressed refers to.
	Path    string
	Entries []remotefs.Entry
	Err     error
}

// collection gathers visited entries from all walker workers. The lock
// only covers the append.
type collection struct {
	mu      sync.Mutex
	entries []remotefs.Entry
}

func (c *collection) push(e remotefs.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *collection) snapshot() []remotefs.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remotefs.Entry(nil), c.entries...)
}

// listingErrors counts listing failures across workers and remembers the
// most recent one.
type listingErrors struct {
	mu    sync.Mutex
	count int
	last  error
	root  error
}

func (l *listingErrors) setRoot(err error) {
	l.mu.Lock()
	l.root = err
	l.mu.Unlock()
}

func (l *listingErrors) rootErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

func (l *listingErrors) add(err error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.last = err
	return l.count
}

func (l *listingErrors) get() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, l.last
}

// DownloadFolder copies the remote tree at remoteRoot into localRoot. The
// returned channel reports progress and is closed after EventCompleted or
// EventFailed; callers must drain it.
//
// Cancelling ctx stops the walk and stops submitting new files. A file
// already being transferred is finished first.
func (o *Orchestrator) DownloadFolder(ctx context.Context, remoteRoot, localRoot string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		o.downloadFolder(ctx, remoteRoot, localRoot, out)
	}()
	return out
}

func (o *Orchestrator) downloadFolder(ctx context.Context, remoteRoot, localRoot string, out chan<- Event) {
	opID := uuid.NewString()
	start := time.Now()
	root := o.canonicalize(ctx, remoteRoot)

	fail := func(err error, files int, bytes int64) {
		log.Printf("[orchestrator] download %s failed: %v", logutil.SanitizeForLog(root), err)
		o.record(sshaudit.AuditEntry{
			OperationID: opID,
			EventType:   sshaudit.EventDownloadFolder,
			Path:        root,
			Target:      localRoot,
			Status:      statusOf(err),
			Details:     err.Error(),
			Files:       files,
			Bytes:       bytes,
		}, start)
		out <- Event{Type: EventFailed, OperationID: opID, Err: err}
	}

	entries, err := o.collect(ctx, root)
	if err != nil {
		fail(err, 0, 0)
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var files []remotefs.Entry
	for _, e := range entries {
		rel, ok := remotefs.RelativeTo(root, e.Path)
		if !ok {
			log.Printf("[orchestrator] skipping %s: outside %s", logutil.SanitizeForLog(e.Path), logutil.SanitizeForLog(root))
			continue
		}
		switch e.Kind {
		case remotefs.KindDir:
			dir := localPath(localRoot, rel)
			if err := os.MkdirAll(dir, 0755); err != nil {
				fail(remotefs.NewError(remotefs.KindLocalIO, "mkdir", dir, err), 0, 0)
				return
			}
		case remotefs.KindFile:
			files = append(files, e)
		default:
			log.Printf("[orchestrator] skipping %s %s", e.TypeLabel(), logutil.Path(e.Path, 80))
		}
	}

	total := len(files)
	out <- Event{Type: EventStarted, OperationID: opID, Total: total}

	// Failed files get their own history rows; the folder row sums up.
	worker := transfer.Start(o.src, transfer.WithHook(func(r transfer.Result) {
		if r.Err == nil {
			return
		}
		o.record(sshaudit.AuditEntry{
			OperationID: opID,
			EventType:   sshaudit.EventDownloadFile,
			Path:        r.RemotePath,
			Target:      r.LocalPath,
			Status:      statusOf(r.Err),
			Details:     r.Err.Error(),
		}, time.Now().Add(-r.Duration))
	}))
	defer func() {
		worker.Close()
		worker.Wait()
	}()

	done, failed := 0, 0
	for i, e := range files {
		if err := ctx.Err(); err != nil {
			stats := worker.Stats()
			fail(remotefs.NewError(remotefs.KindCanceled, "download", root, err), int(stats.Completed), stats.Bytes)
			return
		}

		end := i + previewSize
		if end > total {
			end = total
		}
		out <- Event{Type: EventNextEntries, OperationID: opID, Total: total, Done: done, Entries: append([]remotefs.Entry(nil), files[i:end]...)}

		rel, _ := remotefs.RelativeTo(root, e.Path)
		reply, err := worker.Submit(e.Path, localPath(localRoot, rel))
		if err == nil {
			err = <-reply
		}
		done++
		if err != nil {
			failed++
		}
		out <- Event{
			Type:        EventProgressed,
			OperationID: opID,
			Total:       total,
			Done:        done,
			Failed:      failed,
			Fraction:    float64(done) / float64(total),
			Path:        e.Path,
			Err:         err,
		}
	}

	stats := worker.Stats()
	var details string
	if failed > 0 {
		details = fmt.Sprintf("%d of %d files failed", failed, total)
	}
	status := sshaudit.StatusOK
	if failed > 0 {
		status = sshaudit.StatusFailed
	}
	o.record(sshaudit.AuditEntry{
		OperationID: opID,
		EventType:   sshaudit.EventDownloadFolder,
		Path:        root,
		Target:      localRoot,
		Status:      status,
		Details:     details,
		Files:       int(stats.Completed),
		Bytes:       stats.Bytes,
	}, start)
	log.Printf("[orchestrator] downloaded %s: %d files, %d failed in %s",
		logutil.SanitizeForLog(root), done-failed, failed, time.Since(start).Round(time.Millisecond))

	out <- Event{Type: EventCompleted, OperationID: opID, Total: total, Done: done, Failed: failed, Fraction: 1}
}

// collect walks root and returns every visited entry. Too many listing
// failures abort the walk with the last one.
func (o *Orchestrator) collect(ctx context.Context, root string) ([]remotefs.Entry, error) {
	var coll collection
	var lerrs listingErrors
	threshold := o.opts.ListingErrorThreshold

	factory := func() walker.Visitor {
		return walker.VisitorFunc(func(entry remotefs.Entry, err error) walker.WalkState {
			if err != nil {
				log.Printf("[orchestrator] %v", err)
				if entry.Path == root {
					lerrs.setRoot(err)
					return walker.Quit
				}
				if lerrs.add(err) > threshold {
					return walker.Quit
				}
				return walker.Continue
			}
			coll.push(entry)
			return walker.Continue
		})
	}

	opts := walker.Options{
		Root:     root,
		MaxDepth: o.opts.MaxDepth,
		Workers:  o.opts.Workers,
	}
	if err := walker.Walk(ctx, o.src, opts, factory); err != nil {
		return nil, err
	}
	if err := lerrs.rootErr(); err != nil {
		return nil, err
	}
	if n, last := lerrs.get(); n > threshold {
		return nil, fmt.Errorf("download %s: %d directories could not be listed: %w", root, n, last)
	}
	return coll.snapshot(), nil
}

func localPath(localRoot, rel string) string {
	if rel == "" {
		return localRoot
	}
	return filepath.Join(localRoot, filepath.FromSlash(rel))
}

// DownloadFile copies one remote file to localPath. When localPath is an
// existing directory the file keeps its remote name inside it.
func (o *Orchestrator) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	start := time.Now()
	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, filepath.Base(filepath.FromSlash(remotePath)))
	}

	worker := transfer.Start(o.src, transfer.WithContext(ctx))
	err := worker.Do(ctx, remotePath, localPath)
	worker.Close()

	var bytes int64
	if err == nil {
		bytes = worker.Stats().Bytes
	}
	o.record(sshaudit.AuditEntry{
		OperationID: uuid.NewString(),
		EventType:   sshaudit.EventDownloadFile,
		Path:        remotePath,
		Target:      localPath,
		Status:      statusOf(err),
		Details:     errString(err),
		Files:       boolToInt(err == nil),
		Bytes:       bytes,
	}, start)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
