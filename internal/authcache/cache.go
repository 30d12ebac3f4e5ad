// Package authcache supplements spec.md §6's AuthProvider with an ambient
// concern the spec is silent on: how a long-running agent avoids re-running
// the login handshake on every restart. It caches session material
// (whatever opaque bytes the AuthProvider needs to resume a session)
// encrypted at rest with an age passphrase identity, unlocked interactively
// via a terminal password prompt.
package authcache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"golang.org/x/term"
)

// Cache encrypts and decrypts session material under a single passphrase-
// derived scrypt identity, the same age construction as a public/private
// key pair but collapsed to one symmetric passphrase since session material
// has no separate "send to someone else" use case.
type Cache struct {
	path string
}

// New returns a Cache backed by the encrypted blob at path.
func New(path string) *Cache {
	return &Cache{path: path}
}

// IsConfigured reports whether a cached session blob already exists.
func (c *Cache) IsConfigured() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// Save encrypts plaintext session material under passphrase and writes it
// to the cache path, replacing any prior contents.
func (c *Cache) Save(passphrase string, plaintext []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating auth cache directory: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating auth cache file: %w", err)
	}
	defer f.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("writing cached session material: %w", err)
	}
	return w.Close()
}

// Unlock decrypts the cached session material using passphrase.
func (c *Cache) Unlock(passphrase string) ([]byte, error) {
	ciphertext, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("reading auth cache file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting cached session material: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted session material: %w", err)
	}
	return plaintext, nil
}

// ReadPassphrase prompts on the controlling terminal (fd) for a passphrase
// without echoing it, per spec.md §6's interactive auth flow.
func ReadPassphrase(fd int, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}
