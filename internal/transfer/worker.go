// Package transfer runs remote-to-local file copies one at a time on a
// single goroutine. Any number of producers may queue commands; each command
// gets exactly one reply.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("transfer worker closed")

// ChannelSource hands out channels on the shared connection.
type ChannelSource interface {
	AcquireChannel(ctx context.Context) (remotefs.Channel, error)
}

// Command copies RemotePath to LocalPath. The reply channel receives the
// outcome exactly once.
type Command struct {
	RemotePath string
	LocalPath  string
	reply      chan error
}

// Result describes a finished command; it is passed to the completion hook.
type Result struct {
	RemotePath string
	LocalPath  string
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Stats are running totals for one worker.
type Stats struct {
	Completed int64
	Failed    int64
	Bytes     int64
}

type Option func(*Worker)

// WithHook registers fn to run on the worker goroutine after every command.
func WithHook(fn func(Result)) Option {
	return func(w *Worker) { w.hook = fn }
}

// WithContext sets the context used to acquire channels. Cancelling it makes
// queued commands fail fast with a canceled error.
func WithContext(ctx context.Context) Option {
	return func(w *Worker) { w.ctx = ctx }
}

// Worker is a FIFO of commands drained by one goroutine.
type Worker struct {
	src  ChannelSource
	ctx  context.Context
	hook func(Result)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Command
	closed bool
	done   chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

// Start launches the worker goroutine.
func Start(src ChannelSource, opts ...Option) *Worker {
	w := &Worker{
		src:  src,
		ctx:  context.Background(),
		done: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Submit queues a copy and returns the channel its result will be sent on.
// The queue is unbounded, so Submit never blocks on the worker.
func (w *Worker) Submit(remotePath, localPath string) (<-chan error, error) {
	cmd := &Command{RemotePath: remotePath, LocalPath: localPath, reply: make(chan error, 1)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	w.queue = append(w.queue, cmd)
	w.cond.Signal()
	return cmd.reply, nil
}

// Do submits a copy and waits for its result. If ctx ends first Do returns a
// canceled error; the command itself still runs when its turn comes.
func (w *Worker) Do(ctx context.Context, remotePath, localPath string) error {
	reply, err := w.Submit(remotePath, localPath)
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return remotefs.NewError(remotefs.KindCanceled, "transfer", remotePath, ctx.Err())
	}
}

// Close stops accepting commands. Commands already queued are still
// processed.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Wait blocks until the worker goroutine has exited, which happens after
// Close once the queue is empty.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) Stats() Stats {
	return Stats{
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Bytes:     w.bytes.Load(),
	}
}

func (w *Worker) next() (*Command, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && !w.closed {
		w.cond.Wait()
	}
	if len(w.queue) == 0 {
		return nil, false
	}
	cmd := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return cmd, true
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		cmd, ok := w.next()
		if !ok {
			return
		}

		start := time.Now()
		n, err := w.execute(cmd)
		res := Result{
			RemotePath: cmd.RemotePath,
			LocalPath:  cmd.LocalPath,
			Bytes:      n,
			Duration:   time.Since(start),
			Err:        err,
		}
		if err != nil {
			w.failed.Add(1)
			log.Printf("[transfer] %s failed: %v", logutil.Path(cmd.RemotePath, 80), err)
		} else {
			w.completed.Add(1)
			w.bytes.Add(n)
		}
		if w.hook != nil {
			w.hook(res)
		}
		cmd.reply <- err
	}
}

// execute copies one file. Remote failures are KindTransfer, local ones
// KindLocalIO.
func (w *Worker) execute(cmd *Command) (int64, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, remotefs.NewError(remotefs.KindCanceled, "transfer", cmd.RemotePath, err)
	}

	data, err := w.fetch(cmd.RemotePath)
	if err != nil {
		return 0, err
	}
	if err := writeLocal(cmd.LocalPath, data); err != nil {
		return 0, remotefs.NewError(remotefs.KindLocalIO, "write", cmd.LocalPath, err)
	}
	return int64(len(data)), nil
}

func (w *Worker) fetch(remotePath string) ([]byte, error) {
	ch, err := w.src.AcquireChannel(w.ctx)
	if err != nil {
		if remotefs.KindOf(err) == remotefs.KindCanceled {
			return nil, err
		}
		return nil, remotefs.NewError(remotefs.KindTransfer, "read", remotePath, err)
	}
	defer ch.Close()

	f, err := ch.Open(remotePath)
	if err != nil {
		return nil, remotefs.NewError(remotefs.KindTransfer, "open", remotePath, err)
	}
	defer f.Close()

	data, err := f.ReadAll()
	if err != nil {
		return nil, remotefs.NewError(remotefs.KindTransfer, "read", remotePath, err)
	}
	return data, nil
}

func writeLocal(localPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
