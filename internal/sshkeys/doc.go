// Package sshkeys loads the client credentials used to authenticate a
// session: PEM private keys, optional OpenSSH certificates, and the host key
// policy (known_hosts when configured, log-and-accept otherwise).
//
// [GenerateKeyPair] creates ED25519 pairs; the CLI uses it for `keygen` and
// the in-process test servers use it for host and client keys.
package sshkeys
