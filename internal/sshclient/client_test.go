package sshclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshkeys"
	"github.com/gluk-w/filessh/internal/sshmanager"
)

// testServer is an in-process SSH server that serves the sftp subsystem
// from an in-memory filesystem.
type testServer struct {
	listener net.Listener
	host     string
	port     int
	keyPath  string
}

func startSFTPServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	authorized, _, _, _, err := gossh.ParseAuthorizedKey(clientPub)
	if err != nil {
		t.Fatalf("parse client key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, clientPriv, 0600); err != nil {
		t.Fatal(err)
	}

	serverCfg := &gossh.ServerConfig{
		PublicKeyCallback: func(conn gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return &gossh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	serverCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	handlers := sftp.InMemHandler()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleSFTPConn(conn, serverCfg, handlers)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return &testServer{listener: listener, host: "127.0.0.1", port: addr.Port, keyPath: keyPath}
}

func handleSFTPConn(netConn net.Conn, config *gossh.ServerConfig, handlers sftp.Handlers) {
	defer netConn.Close()
	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer srvConn.Close()
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func(ch gossh.Channel, requests <-chan *gossh.Request) {
			for req := range requests {
				// Payload is a uint32 length followed by the subsystem name.
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				if req.WantReply {
					req.Reply(ok, nil)
				}
				if ok {
					server := sftp.NewRequestServer(ch, handlers)
					server.Serve()
					server.Close()
					return
				}
			}
		}(ch, requests)
	}
}

func (s *testServer) dial(t *testing.T) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), s.host, s.port, Credentials{
		User:    "root",
		KeyPath: s.keyPath,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// seed writes files through a plain sftp client on the same connection.
func seed(t *testing.T, conn *Conn, files map[string]string) {
	t.Helper()
	client, err := sftp.NewClient(conn.client)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	defer client.Close()
	for p, content := range files {
		if err := client.MkdirAll(filepath.ToSlash(filepath.Dir(p))); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		f, err := client.Create(p)
		if err != nil {
			t.Fatalf("create %s: %v", p, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		f.Close()
	}
}

func TestDialAndBrowse(t *testing.T) {
	srv := startSFTPServer(t)
	conn := srv.dial(t)
	seed(t, conn, map[string]string{
		"/site/index.html":   "<html></html>",
		"/site/css/main.css": "body{}",
	})

	ch, err := conn.OpenChannel()
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	defer ch.Close()

	entries, err := ch.ReadDir("/site")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "css" || !entries[0].IsDir() {
		t.Errorf("entries[0] = %+v, want directory css", entries[0])
	}
	if entries[1].Name != "index.html" || !entries[1].IsFile() {
		t.Errorf("entries[1] = %+v, want file index.html", entries[1])
	}
	if entries[1].Size() != uint64(len("<html></html>")) {
		t.Errorf("size = %d", entries[1].Size())
	}

	f, err := ch.Open("/site/css/main.css")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := f.ReadAll()
	f.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "body{}" {
		t.Errorf("content = %q", data)
	}

	resolved, err := ch.RealPath("/site/css/../index.html")
	if err != nil {
		t.Fatalf("RealPath: %v", err)
	}
	if resolved != "/site/index.html" {
		t.Errorf("RealPath = %q", resolved)
	}
}

func TestChannelMutations(t *testing.T) {
	srv := startSFTPServer(t)
	conn := srv.dial(t)
	seed(t, conn, map[string]string{"/work/a.txt": "a"})

	ch, err := conn.OpenChannel()
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	defer ch.Close()

	if err := ch.Rename("/work/a.txt", "/work/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := ch.Open("/work/a.txt"); err == nil {
		t.Error("old name still opens after rename")
	}
	if err := ch.Remove("/work/b.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := ch.RemoveDirectory("/work"); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if _, err := ch.ReadDir("/work"); err == nil {
		t.Error("directory still listable after removal")
	}
}

func TestChannelIDsAreUnique(t *testing.T) {
	srv := startSFTPServer(t)
	conn := srv.dial(t)

	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		ch, err := conn.OpenChannel()
		if err != nil {
			t.Fatalf("OpenChannel %d: %v", i, err)
		}
		defer ch.Close()
		if seen[ch.ID()] {
			t.Errorf("duplicate channel ID %d", ch.ID())
		}
		seen[ch.ID()] = true
	}
}

func TestGuardedChannelsOverOneConnection(t *testing.T) {
	srv := startSFTPServer(t)
	g := sshmanager.NewGuardian("test", srv.dial(t))
	defer g.Close()

	const n = 8
	ids := make([]uint64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := g.AcquireChannel(context.Background())
			if err != nil {
				errs[i] = err
				return
			}
			defer ch.Close()
			ids[i] = ch.ID()
			_, errs[i] = ch.RealPath("/")
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("channel %d: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Errorf("duplicate channel ID %d", ids[i])
		}
		seen[ids[i]] = true
	}
}

func TestPingAndClose(t *testing.T) {
	srv := startSFTPServer(t)
	conn := srv.dial(t)

	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	conn.Close()
	if err := conn.Ping(); err == nil {
		t.Error("Ping succeeded on a closed connection")
	}
	if _, err := conn.OpenChannel(); err == nil {
		t.Error("OpenChannel succeeded on a closed connection")
	}
}

func TestDialWrongKeyIsAuthenticationError(t *testing.T) {
	srv := startSFTPServer(t)

	_, otherPriv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	otherPath := filepath.Join(t.TempDir(), "other")
	if err := os.WriteFile(otherPath, otherPriv, 0600); err != nil {
		t.Fatal(err)
	}

	_, err = Dial(context.Background(), srv.host, srv.port, Credentials{User: "root", KeyPath: otherPath, Timeout: 5 * time.Second})
	if !errors.Is(err, remotefs.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestDialMissingKeyIsAuthenticationError(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1", 22, Credentials{User: "root", KeyPath: filepath.Join(t.TempDir(), "none")})
	if !errors.Is(err, remotefs.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestDialRefusedIsConnectionError(t *testing.T) {
	srv := startSFTPServer(t)
	port := srv.port
	srv.listener.Close()

	_, err := Dial(context.Background(), "127.0.0.1", port, Credentials{User: "root", KeyPath: srv.keyPath, Timeout: 2 * time.Second})
	if !errors.Is(err, remotefs.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	var rerr *remotefs.Error
	if !errors.As(err, &rerr) || !rerr.Retryable() {
		t.Errorf("connection failures should be retryable: %v", err)
	}
}

func TestDialInvalidPort(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1", 0, Credentials{})
	if !errors.Is(err, remotefs.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
