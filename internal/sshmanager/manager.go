package sshmanager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/filessh/internal/remotefs"
)

// Default keepalive interval for the guarded connection.
const defaultKeepaliveInterval = 30 * time.Second

// Guardian owns the single physical connection of a session. Opening a
// channel mutates shared connection state (channel ID allocation, subsystem
// handshake), so it happens under connMu; the returned channel is used
// without holding any lock, which lets many transfers and listings proceed
// in parallel over one connection.
type Guardian struct {
	name string

	connMu sync.Mutex
	conn   remotefs.Conn
	closed bool

	state *stateTracker

	eventsMu sync.RWMutex
	events   []ConnectionEvent

	// keepalive lifecycle
	keepaliveCancel context.CancelFunc
	keepaliveWg     sync.WaitGroup
}

// NewGuardian wraps an authenticated connection. name identifies the session
// in logs and events (usually user@host:port).
func NewGuardian(name string, conn remotefs.Conn) *Guardian {
	g := &Guardian{
		name:  name,
		conn:  conn,
		state: newStateTracker(),
	}
	g.state.set(StateConnected)
	g.emitEvent(EventConnected, "session established")
	return g
}

// Name returns the session label.
func (g *Guardian) Name() string { return g.name }

// AcquireChannel waits for exclusive access to the connection, opens a new
// channel and releases the connection before returning. Waiting for the lock
// is abandoned when ctx is done. Failures are returned as connection errors;
// the guardian never retries or reconnects.
func (g *Guardian) AcquireChannel(ctx context.Context) (remotefs.Channel, error) {
	if err := g.lock(ctx); err != nil {
		return nil, remotefs.NewError(remotefs.KindCanceled, "acquire channel", "", err)
	}
	defer g.connMu.Unlock()

	if g.closed {
		return nil, remotefs.NewError(remotefs.KindConnection, "acquire channel", "", fmt.Errorf("session %s is closed", g.name))
	}

	ch, err := g.conn.OpenChannel()
	if err != nil {
		g.emitEvent(EventChannelFailed, err.Error())
		return nil, remotefs.NewError(remotefs.KindConnection, "acquire channel", "", err)
	}
	return ch, nil
}

// lock acquires connMu, giving up when ctx is done. sync.Mutex has no
// cancellable Lock, so a losing waiter goroutine hands the mutex straight
// back once it gets it.
func (g *Guardian) lock(ctx context.Context) error {
	if g.connMu.TryLock() {
		return nil
	}
	acquired := make(chan struct{})
	go func() {
		g.connMu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			g.connMu.Unlock()
		}()
		return ctx.Err()
	}
}

// Close stops the keepalive loop and disconnects. It is idempotent and safe
// to call while other goroutines still hold channels; they observe failures
// on their next use.
func (g *Guardian) Close() error {
	g.stopKeepalive()

	g.connMu.Lock()
	if g.closed {
		g.connMu.Unlock()
		return nil
	}
	g.closed = true
	conn := g.conn
	g.connMu.Unlock()

	g.state.set(StateClosed)
	if err := conn.Close(); err != nil {
		g.emitEvent(EventDisconnected, err.Error())
		return fmt.Errorf("close session %s: %w", g.name, err)
	}
	g.emitEvent(EventDisconnected, "closed by application")
	log.Printf("[ssh] closed session %s", g.name)
	return nil
}

// Closed reports whether Close has been called.
func (g *Guardian) Closed() bool {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.closed
}

// State returns the current connection state.
func (g *Guardian) State() ConnectionState {
	return g.state.get()
}

// StartKeepalive pings the connection every interval until ctx is done or
// the guardian is closed. It only does something when the connection
// implements remotefs.Pinger. A failed ping marks the session failed and is
// logged; reconnecting is left to the caller.
func (g *Guardian) StartKeepalive(ctx context.Context, interval time.Duration) {
	pinger, ok := g.conn.(remotefs.Pinger)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = defaultKeepaliveInterval
	}

	g.connMu.Lock()
	if g.closed || g.keepaliveCancel != nil {
		g.connMu.Unlock()
		return
	}
	kctx, cancel := context.WithCancel(ctx)
	g.keepaliveCancel = cancel
	g.keepaliveWg.Add(1)
	g.connMu.Unlock()

	go g.keepaliveLoop(kctx, pinger, interval)
}

func (g *Guardian) stopKeepalive() {
	g.connMu.Lock()
	cancel := g.keepaliveCancel
	g.keepaliveCancel = nil
	g.connMu.Unlock()
	if cancel != nil {
		cancel()
		g.keepaliveWg.Wait()
	}
}

// keepaliveLoop runs periodic liveness checks on the connection.
func (g *Guardian) keepaliveLoop(ctx context.Context, pinger remotefs.Pinger, interval time.Duration) {
	defer g.keepaliveWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkConnection(pinger)
		}
	}
}

func (g *Guardian) checkConnection(pinger remotefs.Pinger) {
	if err := pinger.Ping(); err != nil {
		log.Printf("[ssh] keepalive failed for %s: %v", g.name, err)
		if g.state.set(StateFailed) != StateFailed {
			g.emitEvent(EventHealthCheckFailed, err.Error())
		}
		return
	}
	if g.state.set(StateConnected) == StateFailed {
		g.emitEvent(EventHealthCheckRecovered, "keepalive succeeded")
	}
}
