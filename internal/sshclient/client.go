// Package sshclient connects to a remote host over SSH and exposes SFTP
// channels on that connection as remotefs.Channel values.
package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/filessh/internal/logutil"
	"github.com/gluk-w/filessh/internal/remotefs"
	"github.com/gluk-w/filessh/internal/sshkeys"
)

const defaultTimeout = 10 * time.Second

// Credentials describe how to authenticate against the remote host.
type Credentials struct {
	User     string
	KeyPath  string
	CertPath string
	// KnownHostsPath is checked when it exists; otherwise host keys are
	// accepted and logged.
	KnownHostsPath string
	Timeout        time.Duration
}

// Conn is one SSH connection. It implements remotefs.Conn and
// remotefs.Pinger.
type Conn struct {
	addr   string
	client *ssh.Client
	nextID atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Dial opens an authenticated SSH connection to host:port. Key and
// authentication problems are reported as remotefs.KindAuthentication,
// everything else as remotefs.KindConnection.
func Dial(ctx context.Context, host string, port int, creds Credentials) (*Conn, error) {
	if host == "" {
		return nil, remotefs.NewError(remotefs.KindConnection, "connect", "", errors.New("host is empty"))
	}
	if port <= 0 || port > 65535 {
		return nil, remotefs.NewError(remotefs.KindConnection, "connect", "", fmt.Errorf("invalid port %d", port))
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	signer, err := sshkeys.LoadSigner(creds.KeyPath, creds.CertPath)
	if err != nil {
		return nil, remotefs.NewError(remotefs.KindAuthentication, "connect", addr, err)
	}
	hostKeyCallback, err := sshkeys.HostKeyCallback(creds.KnownHostsPath)
	if err != nil {
		return nil, remotefs.NewError(remotefs.KindConnection, "connect", addr, err)
	}

	timeout := creds.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	config := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	var client *ssh.Client
	dialDone := make(chan struct{})
	var dialErr error

	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-dialDone
			if client != nil {
				client.Close()
			}
		}()
		return nil, remotefs.NewError(remotefs.KindCanceled, "connect", addr, ctx.Err())
	case <-dialDone:
		if dialErr != nil {
			return nil, remotefs.NewError(classifyDialError(dialErr), "connect", addr, dialErr)
		}
	}

	log.Printf("[ssh] connected to %s as %s", logutil.SanitizeForLog(addr), logutil.SanitizeForLog(creds.User))
	return NewConn(client, addr), nil
}

// NewConn wraps an already established SSH client.
func NewConn(client *ssh.Client, addr string) *Conn {
	return &Conn{addr: addr, client: client}
}

func classifyDialError(err error) remotefs.ErrorKind {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return remotefs.KindAuthentication
	}
	return remotefs.KindConnection
}

// Addr is the host:port this connection was dialed to.
func (c *Conn) Addr() string { return c.addr }

// OpenChannel starts a new SFTP subsystem session. Callers must not invoke
// it concurrently on the same Conn. The channel's ID is a local sequence
// number; the SSH library keeps its own wire channel IDs private.
func (c *Conn) OpenChannel() (remotefs.Channel, error) {
	client, err := sftp.NewClient(c.client, sftp.UseConcurrentReads(true))
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	return &channel{id: c.nextID.Add(1), client: client}, nil
}

// Ping sends an OpenSSH keepalive request.
func (c *Conn) Ping() error {
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

// Close shuts the SSH connection. Channels opened on it fail afterwards.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

type channel struct {
	id     uint64
	client *sftp.Client
}

func (c *channel) ID() uint64 { return c.id }

func (c *channel) ReadDir(dir string) ([]remotefs.Entry, error) {
	infos, err := c.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]remotefs.Entry, 0, len(infos))
	for _, fi := range infos {
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		entries = append(entries, entryFromFileInfo(fi))
	}
	return entries, nil
}

func entryFromFileInfo(fi os.FileInfo) remotefs.Entry {
	size := uint64(fi.Size())
	mtime := fi.ModTime()
	attrs := remotefs.Attributes{
		Size:    &size,
		ModTime: &mtime,
		Perm:    fi.Mode().Perm(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		attrs.Owner = strconv.FormatUint(uint64(st.UID), 10)
	}
	return remotefs.NewEntry(fi.Name(), fi.Mode(), attrs)
}

func (c *channel) Open(name string) (remotefs.File, error) {
	f, err := c.client.Open(name)
	if err != nil {
		return nil, err
	}
	return &file{f: f}, nil
}

func (c *channel) RealPath(name string) (string, error) {
	return c.client.RealPath(name)
}

func (c *channel) Rename(oldname, newname string) error {
	return c.client.Rename(oldname, newname)
}

func (c *channel) Remove(name string) error {
	return c.client.Remove(name)
}

func (c *channel) RemoveDirectory(name string) error {
	return c.client.RemoveDirectory(name)
}

func (c *channel) Close() error {
	return c.client.Close()
}

type file struct {
	f *sftp.File
}

// ReadAll reads the whole file, pipelining read requests.
func (f *file) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *file) Close() error {
	return f.f.Close()
}
