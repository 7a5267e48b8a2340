package secrets

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := NewBox("test-master-key")

	plaintext := `{"backend_url":"https://tenant.example.com","anon_key":"abc"}`
	sealed, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsEncrypted(sealed) {
		t.Fatalf("expected marker prefix, got %q", sealed[:10])
	}
	if strings.Contains(sealed, "tenant.example.com") {
		t.Fatal("ciphertext leaks plaintext")
	}

	opened, err := box.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != plaintext {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestDecryptPassesPlaintextThrough(t *testing.T) {
	box := NewBox("test-master-key")

	// Legacy rows store raw credentials without the marker.
	out, err := box.Decrypt("raw-anon-key")
	if err != nil {
		t.Fatalf("decrypt plaintext: %v", err)
	}
	if out != "raw-anon-key" {
		t.Fatalf("plaintext changed: %q", out)
	}

	// Even a box with no master key tolerates plaintext.
	out, err = NewBox("").Decrypt("raw-anon-key")
	if err != nil || out != "raw-anon-key" {
		t.Fatalf("keyless plaintext passthrough failed: %q %v", out, err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	sealed, err := NewBox("key-a").Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := NewBox("key-b").Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestEncryptRequiresMasterKey(t *testing.T) {
	if _, err := NewBox("").Encrypt("secret"); err != ErrMasterKeyRequired {
		t.Fatalf("expected ErrMasterKeyRequired, got %v", err)
	}
}
