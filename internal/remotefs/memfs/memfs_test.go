package memfs

import (
	"errors"
	"testing"

	"github.com/gluk-w/filessh/internal/remotefs"
)

func open(t *testing.T, fs *FS) remotefs.Channel {
	t.Helper()
	ch, err := fs.OpenChannel()
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	return ch
}

func TestReadDirSortedAndTyped(t *testing.T) {
	fs := New()
	fs.WriteFile("/srv/b.txt", []byte("bb"))
	fs.WriteFile("/srv/a.txt", []byte("a"))
	fs.MkdirAll("/srv/sub")
	fs.Symlink("/srv/link")

	entries, err := open(t, fs).ReadDir("/srv")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := []struct {
		name string
		kind remotefs.Kind
	}{
		{"a.txt", remotefs.KindFile},
		{"b.txt", remotefs.KindFile},
		{"link", remotefs.KindSymlink},
		{"sub", remotefs.KindDir},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Name != w.name || entries[i].Kind != w.kind {
			t.Errorf("entry %d = %s/%v, want %s/%v", i, entries[i].Name, entries[i].Kind, w.name, w.kind)
		}
	}
	if entries[1].Size() != 2 {
		t.Errorf("b.txt size = %d", entries[1].Size())
	}
}

func TestRelativePathsUseHome(t *testing.T) {
	fs := New()
	fs.WriteFile("notes/todo", []byte("x"))
	if !fs.Exists("/root/notes/todo") {
		t.Fatal("relative write did not land under /root")
	}
	p, err := open(t, fs).RealPath("notes")
	if err != nil || p != "/root/notes" {
		t.Errorf("RealPath = %q, %v", p, err)
	}
}

func TestRemoveDirectoryRequiresEmpty(t *testing.T) {
	fs := New()
	fs.WriteFile("/d/f", nil)
	ch := open(t, fs)

	if err := ch.RemoveDirectory("/d"); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
	if err := ch.Remove("/d"); !errors.Is(err, ErrIsDir) {
		t.Fatalf("expected ErrIsDir, got %v", err)
	}
	if err := ch.Remove("/d/f"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := ch.RemoveDirectory("/d"); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if fs.Exists("/d") {
		t.Error("/d still exists")
	}
}

func TestRenameMovesSubtree(t *testing.T) {
	fs := New()
	fs.WriteFile("/a/x/y", []byte("1"))
	fs.MkdirAll("/b")
	ch := open(t, fs)

	if err := ch.Rename("/a/x", "/b/x"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if !fs.Exists("/b/x/y") || fs.Exists("/a/x") {
		t.Error("subtree not moved")
	}
	if err := ch.Rename("/b/x", "/b/x"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if err := ch.Rename("/b/x", "/missing/x"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist for a missing parent, got %v", err)
	}
}

func TestOpenAndReadAll(t *testing.T) {
	fs := New()
	fs.WriteFile("/f", []byte("hello"))
	ch := open(t, fs)

	f, err := ch.Open("/f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := f.ReadAll()
	if err != nil || string(data) != "hello" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
	if _, err := ch.Open("/"); !errors.Is(err, ErrIsDir) {
		t.Errorf("expected ErrIsDir, got %v", err)
	}
	if _, err := ch.Open("/nope"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestInjectedFailures(t *testing.T) {
	fs := New()
	fs.MkdirAll("/locked")
	boom := errors.New("permission denied")
	fs.SetListError("/locked", boom)
	ch := open(t, fs)

	if _, err := ch.ReadDir("/locked"); !errors.Is(err, boom) {
		t.Errorf("expected injected list error, got %v", err)
	}

	fs.SetOpenChannelError(boom)
	if _, err := fs.OpenChannel(); !errors.Is(err, boom) {
		t.Errorf("expected injected open error, got %v", err)
	}
	fs.SetOpenChannelError(nil)

	ch.Close()
	if _, err := ch.ReadDir("/"); !errors.Is(err, ErrChanClosed) {
		t.Errorf("expected ErrChanClosed, got %v", err)
	}
	fs.Close()
	if _, err := fs.OpenChannel(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("expected ErrConnClosed, got %v", err)
	}
	if err := fs.Ping(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Ping after close = %v", err)
	}
}

func TestCallsAreRecordedPerChannel(t *testing.T) {
	fs := New()
	fs.MkdirAll("/x")
	a, b := open(t, fs), open(t, fs)
	if a.ID() == b.ID() {
		t.Fatalf("serial channels share id %d", a.ID())
	}
	a.ReadDir("/x")
	b.RealPath("/x")

	calls := fs.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Channel != a.ID() || calls[0].Op != "readdir" || calls[1].Op != "realpath" {
		t.Errorf("unexpected calls %+v", calls)
	}
	if got := fs.CallsFor("readdir"); len(got) != 1 || got[0] != "/x" {
		t.Errorf("CallsFor = %v", got)
	}
	if fs.ChannelsOpened() != 2 || fs.Overlaps() != 0 {
		t.Errorf("opened=%d overlaps=%d", fs.ChannelsOpened(), fs.Overlaps())
	}
}
