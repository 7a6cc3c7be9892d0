package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/remotefs/memfs"
	"github.com/gluk-w/filessh/internal/sshmanager"
)

func newWorker(t *testing.T, fs *memfs.FS, opts ...Option) *Worker {
	t.Helper()
	g := sshmanager.NewGuardian("test", fs)
	w := Start(g, opts...)
	t.Cleanup(func() {
		w.Close()
		w.Wait()
		g.Close()
	})
	return w
}

func waitReply(t *testing.T, reply <-chan error) error {
	t.Helper()
	select {
	case err := <-reply:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestTransferOrderFollowsSubmission(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/a.bin", []byte("aaaa"))
	fs.WriteFile("/src/b.bin", []byte("b"))
	fs.SetReadDelay("/src/a.bin", 50*time.Millisecond)

	var mu sync.Mutex
	var order []string
	hook := func(r Result) {
		mu.Lock()
		order = append(order, filepath.Base(r.LocalPath))
		mu.Unlock()
	}
	w := newWorker(t, fs, WithHook(hook))
	dst := t.TempDir()

	replyA, err := w.Submit("/src/a.bin", filepath.Join(dst, "a.bin"))
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	replyB, err := w.Submit("/src/b.bin", filepath.Join(dst, "b.bin"))
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if err := waitReply(t, replyB); err != nil {
		t.Fatalf("b: %v", err)
	}
	if err := waitReply(t, replyA); err != nil {
		t.Fatalf("a: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "a.bin" || order[1] != "b.bin" {
		t.Errorf("completion order = %v, want [a.bin b.bin]", order)
	}
	data, err := os.ReadFile(filepath.Join(dst, "a.bin"))
	if err != nil || string(data) != "aaaa" {
		t.Errorf("a.bin = %q, %v", data, err)
	}
}

func TestTransferPartialFailureIsolation(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/ok.txt", []byte("fine"))
	w := newWorker(t, fs)
	dst := t.TempDir()

	missing, err := w.Submit("/src/missing.txt", filepath.Join(dst, "missing.txt"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := w.Submit("/src/ok.txt", filepath.Join(dst, "nested", "ok.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if err := waitReply(t, missing); !errors.Is(err, remotefs.ErrTransfer) {
		t.Errorf("missing file: expected a transfer error, got %v", err)
	}
	if err := waitReply(t, ok); err != nil {
		t.Errorf("ok file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "missing.txt")); !os.IsNotExist(err) {
		t.Errorf("failed transfer left a local file: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "nested", "ok.txt"))
	if err != nil || string(data) != "fine" {
		t.Errorf("ok.txt = %q, %v", data, err)
	}

	stats := w.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Bytes != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTransferLocalIOError(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/f", []byte("x"))
	w := newWorker(t, fs)

	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("file, not dir"), 0644); err != nil {
		t.Fatal(err)
	}

	err := w.Do(context.Background(), "/src/f", filepath.Join(blocker, "f"))
	if !errors.Is(err, remotefs.ErrLocalIO) {
		t.Fatalf("expected a local IO error, got %v", err)
	}
}

func TestTransferChannelFailure(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/f", []byte("x"))
	fs.SetOpenChannelError(errors.New("channel open failed"))
	w := newWorker(t, fs)

	err := w.Do(context.Background(), "/src/f", filepath.Join(t.TempDir(), "f"))
	if !errors.Is(err, remotefs.ErrTransfer) {
		t.Fatalf("expected a transfer error, got %v", err)
	}
	if !errors.Is(err, remotefs.ErrConnection) {
		t.Errorf("expected the connection error to be wrapped, got %v", err)
	}
}

func TestTransferCloseDrainsQueue(t *testing.T) {
	fs := memfs.New()
	for i := 0; i < 5; i++ {
		fs.WriteFile(fmt.Sprintf("/src/%d", i), []byte{byte(i)})
	}
	fs.SetReadDelay("/src/0", 20*time.Millisecond)
	g := sshmanager.NewGuardian("test", fs)
	defer g.Close()
	w := Start(g)
	dst := t.TempDir()

	var replies []<-chan error
	for i := 0; i < 5; i++ {
		r, err := w.Submit(fmt.Sprintf("/src/%d", i), filepath.Join(dst, fmt.Sprint(i)))
		if err != nil {
			t.Fatal(err)
		}
		replies = append(replies, r)
	}
	w.Close()

	if _, err := w.Submit("/src/0", filepath.Join(dst, "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close: expected ErrClosed, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after Close")
	}

	for i, r := range replies {
		select {
		case err := <-r:
			if err != nil {
				t.Errorf("command %d: %v", i, err)
			}
		default:
			t.Errorf("command %d got no reply", i)
		}
	}
}

func TestTransferDoHonoursContext(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/slow", []byte("x"))
	fs.SetReadDelay("/src/slow", 200*time.Millisecond)
	w := newWorker(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Do(ctx, "/src/slow", filepath.Join(t.TempDir(), "slow"))
	if !errors.Is(err, remotefs.ErrCanceled) {
		t.Fatalf("expected a canceled error, got %v", err)
	}
}

func TestTransferWorkerContextCancelsQueuedCommands(t *testing.T) {
	fs := memfs.New()
	fs.WriteFile("/src/f", []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newWorker(t, fs, WithContext(ctx))

	err := w.Do(context.Background(), "/src/f", filepath.Join(t.TempDir(), "f"))
	if !errors.Is(err, remotefs.ErrCanceled) {
		t.Fatalf("expected a canceled error, got %v", err)
	}
	if len(fs.CallsFor("open")) != 0 {
		t.Error("a canceled command still touched the remote file")
	}
}
