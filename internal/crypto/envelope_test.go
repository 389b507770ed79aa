package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	env, err := New("correct horse battery staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("MDB\x01\x00\x00\x00\x00some table bytes")
	sealed, err := env.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if !IsEncrypted(sealed) {
		t.Fatal("IsEncrypted: want true for sealed data")
	}

	got, err := env.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open: got %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	env, err := New("p@ssw0rd")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := env.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := env.Open(sealed); err == nil {
		t.Fatal("Open: want error for tampered ciphertext, got nil")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	writer, err := New("password-one")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reader, err := New("password-two")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sealed, err := writer.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := reader.Open(sealed); err == nil {
		t.Fatal("Open: want error decrypting with the wrong password, got nil")
	}
}

func TestIsEncryptedDetectsPlaintext(t *testing.T) {
	if IsEncrypted([]byte("MDB\x01\x00\x00\x00\x00")) {
		t.Fatal("IsEncrypted: want false for a plain MDB table image")
	}
	if IsEncrypted(nil) {
		t.Fatal("IsEncrypted: want false for empty data")
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a, err := deriveKey("same-password")
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	b, err := deriveKey("same-password")
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("deriveKey: want identical keys for identical passwords (fixed salt)")
	}
}
