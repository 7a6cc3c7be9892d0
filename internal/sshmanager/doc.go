// Package sshmanager guards the one physical SSH connection of a session.
//
// A [Guardian] owns the connection behind a mutex. Callers obtain SFTP
// channels with [Guardian.AcquireChannel]; the lock covers channel creation
// only, never channel use, so listings and transfers on different channels
// run in parallel while channel ID allocation and the subsystem handshake
// stay serialized.
//
// # Lifecycle
//
//  1. NewGuardian wraps a connection returned by sshclient.Dial.
//  2. StartKeepalive (optional) pings the connection periodically. A failed
//     ping moves the session to [StateFailed] and is recorded as an event;
//     nothing reconnects automatically.
//  3. Close disconnects. It is idempotent; channels still held elsewhere fail
//     on their next use.
//
// # Events
//
// The guardian keeps a ring buffer of the last 100 [ConnectionEvent]s and the
// last 50 state transitions for display in the CLI.
//
// # Log Prefixes
//
// All log output uses the [ssh] prefix.
package sshmanager
