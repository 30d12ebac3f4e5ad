package authcache

import (
	"path/filepath"
	"testing"
)

func TestCache_SaveUnlockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.age")
	c := New(path)

	if c.IsConfigured() {
		t.Fatal("IsConfigured() = true before Save")
	}

	want := []byte(`{"refreshToken":"abc123"}`)
	if err := c.Save("correct horse battery staple", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !c.IsConfigured() {
		t.Fatal("IsConfigured() = false after Save")
	}

	got, err := c.Unlock("correct horse battery staple")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Unlock() = %q, want %q", got, want)
	}
}

func TestCache_UnlockWithWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.age")
	c := New(path)

	if err := c.Save("right-passphrase", []byte("secret")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := c.Unlock("wrong-passphrase"); err == nil {
		t.Fatal("Unlock() expected error for the wrong passphrase")
	}
}

func TestCache_UnlockMissingFileErrors(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.age"))
	if _, err := c.Unlock("whatever"); err == nil {
		t.Fatal("Unlock() expected error for a missing cache file")
	}
}
