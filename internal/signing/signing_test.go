package signing

import (
	"bytes"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	key1, err := DeriveKey([]byte("collector-secret"), nil)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(key1) != KeySize {
		t.Errorf("key length = %d, want %d", len(key1), KeySize)
	}

	key2, err := DeriveKey([]byte("collector-secret"), nil)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveKey() should be deterministic")
	}

	key3, err := DeriveKey([]byte("collector-secret"), []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("different salt should give a different key")
	}
}

func TestDeriveKeyEmptySecret(t *testing.T) {
	if _, err := DeriveKey(nil, nil); err == nil {
		t.Error("DeriveKey(nil) should fail")
	}
	if _, err := NewSigner(""); err == nil {
		t.Error("NewSigner(\"\") should fail")
	}
}

func TestSignVerify(t *testing.T) {
	s, err := NewSigner("collector-secret")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	body := []byte(`{"records":[]}`)

	sig := s.Sign("batch-1", body)
	if len(sig) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(sig))
	}
	if !s.Verify("batch-1", body, sig) {
		t.Error("Verify() rejected a valid signature")
	}
	if s.Verify("batch-2", body, sig) {
		t.Error("Verify() accepted a signature for another batch id")
	}
	if s.Verify("batch-1", []byte(`{"records":[1]}`), sig) {
		t.Error("Verify() accepted a tampered body")
	}
	if s.Verify("batch-1", body, "not-hex") {
		t.Error("Verify() accepted a malformed signature")
	}

	other, _ := NewSigner("other-secret")
	if other.Verify("batch-1", body, sig) {
		t.Error("Verify() accepted a signature under another secret")
	}
}
