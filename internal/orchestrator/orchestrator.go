// Package orchestrator composes the walker and the transfer worker into the
// bulk operations offered to users: recursive download, recursive delete,
// move and directory browsing.
package orchestrator

import (
	"context"
	"log"
	"path"
	"time"

	"github.com/gluk-w/filessh/internal/config"
	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshaudit"
	"github.com/gluk-w/filessh/internal/walker"
)

// DefaultListingErrorThreshold is how many directory listing failures a
// download tolerates before giving up.
const DefaultListingErrorThreshold = 32

// Recorder receives one history entry per finished operation.
// *sshaudit.Auditor implements it.
type Recorder interface {
	Log(entry sshaudit.AuditEntry) error
}

// Options tune an Orchestrator.
type Options struct {
	// Session labels history entries, usually host:port.
	Session string
	// Workers is the walker pool size; 0 picks one automatically.
	Workers int
	// MaxDepth bounds recursive downloads; nil means unbounded.
	MaxDepth              *int
	ListingErrorThreshold int
	Recorder              Recorder
}

// OptionsFromConfig fills Options from config.Cfg.
func OptionsFromConfig(session string, rec Recorder) Options {
	return Options{
		Session:               session,
		Workers:               config.Cfg.Workers,
		MaxDepth:              walker.Depth(config.Cfg.DownloadMaxDepth),
		ListingErrorThreshold: config.Cfg.ListingErrorThreshold,
		Recorder:              rec,
	}
}

// Orchestrator runs operations against one session. It holds no per-call
// state and may be used from several goroutines.
type Orchestrator struct {
	src  walker.ChannelSource
	opts Options
}

func New(src walker.ChannelSource, opts Options) *Orchestrator {
	if opts.ListingErrorThreshold <= 0 {
		opts.ListingErrorThreshold = DefaultListingErrorThreshold
	}
	return &Orchestrator{src: src, opts: opts}
}

// canonicalize resolves p on the server. Any failure falls back to the
// cleaned input, so callers always get a usable path.
func (o *Orchestrator) canonicalize(ctx context.Context, p string) string {
	if p == "" {
		p = "."
	}
	ch, err := o.src.AcquireChannel(ctx)
	if err != nil {
		return path.Clean(p)
	}
	defer ch.Close()
	resolved, err := ch.RealPath(p)
	if err != nil || resolved == "" {
		return path.Clean(p)
	}
	return resolved
}

func (o *Orchestrator) record(entry sshaudit.AuditEntry, start time.Time) {
	if o.opts.Recorder == nil {
		return
	}
	entry.Session = o.opts.Session
	entry.DurationMs = time.Since(start).Milliseconds()
	if err := o.opts.Recorder.Log(entry); err != nil {
		log.Printf("[orchestrator] cannot record %s of %s: %v", entry.EventType, logutil.SanitizeForLog(entry.Path), err)
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return sshaudit.StatusOK
	case remotefs.KindOf(err) == remotefs.KindCanceled:
		return sshaudit.StatusCanceled
	default:
		return sshaudit.StatusFailed
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
