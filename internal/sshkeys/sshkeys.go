package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/filessh/internal/logutil"
)

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// SaveKeyPair writes name and name.pub into dir. The private key is written
// with mode 0600 and the public key with mode 0644.
func SaveKeyPair(dir, name string, privateKey, publicKey []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	privPath := filepath.Join(dir, name)
	if err := os.WriteFile(privPath, privateKey, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	pubPath := privPath + ".pub"
	if err := os.WriteFile(pubPath, publicKey, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	log.Printf("SSH key pair saved to %s", privPath)
	return nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer for
// SSH authentication.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// LoadSigner reads the private key at keyPath. When certPath is non-empty the
// OpenSSH certificate stored there is attached to the key, so the server sees
// publickey+certificate authentication.
func LoadSigner(keyPath, certPath string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", logutil.SanitizeForLog(keyPath), err)
	}
	signer, err := ParsePrivateKey(keyData)
	if err != nil {
		return nil, err
	}
	if certPath == "" {
		return signer, nil
	}

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", logutil.SanitizeForLog(certPath), err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	cert, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("parse certificate: %s is not an OpenSSH certificate", logutil.SanitizeForLog(certPath))
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("attach certificate: %w", err)
	}
	return certSigner, nil
}

// HostKeyCallback returns a callback that checks server keys against the
// given known_hosts file. With an empty path or a missing file every key is
// accepted and its fingerprint logged.
func HostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath != "" {
		if _, err := os.Stat(knownHostsPath); err == nil {
			cb, err := knownhosts.New(knownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("load known hosts: %w", err)
			}
			return cb, nil
		}
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		log.Printf("[ssh] accepting host key for %s: %s %s",
			logutil.SanitizeForLog(hostname), key.Type(), ssh.FingerprintSHA256(key))
		return nil
	}, nil
}

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public key.
// The publicKey should be in SSH authorized_keys format (e.g. "ssh-ed25519 AAAA...").
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}
