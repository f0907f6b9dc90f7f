package keyring

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-orchestrator/common"
)

func TestStore_SystemKeyring(t *testing.T) {
	keyring.MockInit()

	s := New(t.TempDir())
	if s.useLocal {
		t.Fatal("New() should use the system keyring when it is available")
	}

	if err := s.Store("vpn.example.com", "tok123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Get("vpn.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "tok123" {
		t.Errorf("Get() = %v, want tok123", got)
	}

	if err := s.Delete("vpn.example.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if s.Exists("vpn.example.com") {
		t.Error("Exists() should be false after Delete()")
	}
}

func TestStore_LocalFile(t *testing.T) {
	dir := t.TempDir()

	s := NewLocal(dir)
	if err := s.Store("vpn.example.com", "tok123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, common.CredentialsFileName))
	if err != nil {
		t.Fatalf("credential file not written: %v", err)
	}
	if string(raw) == "" || bytes.Contains(raw, []byte("tok123")) {
		t.Error("credential file should be encrypted")
	}

	reopened := NewLocal(dir)
	got, err := reopened.Get("vpn.example.com")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got != "tok123" {
		t.Errorf("Get() = %v, want tok123", got)
	}
}

func TestStore_Errors(t *testing.T) {
	s := NewLocal(t.TempDir())

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"store empty server", func() error { return s.Store(" ", "tok") }, ErrEmptyKey},
		{"get empty server", func() error { _, err := s.Get(""); return err }, ErrEmptyKey},
		{"get missing", func() error { _, err := s.Get("missing.example.com"); return err }, ErrNotFound},
		{"delete empty server", func() error { return s.Delete("") }, ErrEmptyKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	s := NewLocal(t.TempDir())

	ciphertext, err := s.encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}

	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(plaintext) != "secret" {
		t.Errorf("decrypt() = %v, want secret", string(plaintext))
	}

	if _, err := s.decrypt([]byte("AAAA")); !errors.Is(err, common.ErrDecryption) {
		t.Errorf("decrypt(short) error = %v, want %v", err, common.ErrDecryption)
	}
}
