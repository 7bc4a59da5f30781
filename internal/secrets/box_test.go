package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func TestCredentials(t *testing.T) {
	box, err := NewBox("operator-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	creds := map[string]string{"password": "hunter2", "server": "Demo-01"}

	sealed, err := box.SealCredentials(creds)
	if err != nil {
		t.Fatalf("SealCredentials failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("hunter2")) {
		t.Fatal("sealed credentials contain plaintext")
	}

	got, err := box.OpenCredentials(sealed)
	if err != nil {
		t.Fatalf("OpenCredentials failed: %v", err)
	}
	if got["password"] != "hunter2" || got["server"] != "Demo-01" {
		t.Errorf("unexpected credentials %v", got)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	a, _ := NewBox("key-a")
	b, _ := NewBox("key-b")

	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
	if _, err := a.Open(sealed[:10]); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for truncated input, got %v", err)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	box, _ := NewBox("k")

	x, _ := box.Seal([]byte("same"))
	y, _ := box.Seal([]byte("same"))
	if bytes.Equal(x, y) {
		t.Error("two seals of the same plaintext must differ")
	}
}

func TestEmpty(t *testing.T) {
	if _, err := NewBox(""); err == nil {
		t.Error("expected error for empty passphrase")
	}

	box, _ := NewBox("k")
	sealed, err := box.SealCredentials(nil)
	if err != nil || sealed != nil {
		t.Errorf("expected nil for empty credentials, got %v, %v", sealed, err)
	}

	creds, err := box.OpenCredentials(nil)
	if err != nil || len(creds) != 0 {
		t.Errorf("expected empty map, got %v, %v", creds, err)
	}
}
