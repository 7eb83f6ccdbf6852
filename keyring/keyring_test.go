package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/kingzvpn/client/common"
)

func TestStore_SystemKeyring(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Local() {
		t.Fatal("expected system keyring backend")
	}

	want := common.Credentials{Username: "alice", Password: "s3cret"}
	if err := s.Store("cfg-1", want); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := s.Get("cfg-1")
	if err != nil || got != want {
		t.Errorf("Get() = %+v, %v, want %+v", got, err, want)
	}
	if !s.Exists("cfg-1") {
		t.Error("Exists() = false")
	}
	if common.FileExists(filepath.Join(dir, common.CredentialsFileName)) {
		t.Error("fallback file written while system keyring works")
	}

	if err := s.Delete("cfg-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("cfg-1"); !errors.Is(err, common.ErrCredentialsNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestStore_FallbackWhenKeyringFails(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	defer keyring.MockInit()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !s.Local() {
		t.Fatal("expected encrypted file backend")
	}

	want := common.Credentials{Username: "bob", Password: "hunter2"}
	if err := s.Store("cfg-2", want); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, common.CredentialsFileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Fatal("fallback file is empty")
	}
	for _, secret := range []string{"bob", "hunter2"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("fallback file contains %q in plain text", secret)
		}
	}

	reopened, err := New(dir, WithLocalOnly())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := reopened.Get("cfg-2")
	if err != nil || got != want {
		t.Errorf("Get() after reopen = %+v, %v, want %+v", got, err, want)
	}
}

func TestStore_CorruptFileIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, common.CredentialsFileName), []byte("not-base64!!"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := New(dir, WithLocalOnly())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Get("anything"); !errors.Is(err, common.ErrCredentialsNotFound) {
		t.Errorf("Get() error = %v, want ErrCredentialsNotFound", err)
	}
	if err := s.Store("cfg", common.Credentials{Username: "u", Password: "p"}); err != nil {
		t.Errorf("Store() over corrupt file error = %v", err)
	}
}

func TestStore_Validation(t *testing.T) {
	s, err := New(t.TempDir(), WithLocalOnly())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		id    string
		creds common.Credentials
	}{
		{"empty id", "", common.Credentials{Username: "u"}},
		{"empty username", "cfg", common.Credentials{Password: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Store(tt.id, tt.creds); !errors.Is(err, common.ErrValidation) {
				t.Errorf("Store() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key, err := deriveKey()
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := decrypt(key, sealed)
	if err != nil || string(plain) != "payload" {
		t.Errorf("decrypt() = %q, %v", plain, err)
	}

	other := make([]byte, len(key))
	copy(other, key)
	other[0] ^= 0xff
	if _, err := decrypt(other, sealed); err == nil {
		t.Error("decrypt() with wrong key succeeded")
	}
}
