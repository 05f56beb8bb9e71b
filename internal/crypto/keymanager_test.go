package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const plainKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+plainKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != plainKey {
		t.Fatalf("round trip changed the key: %q", got)
	}
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	blob, err := EncryptKey(plainKey, "right")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(plainKey, ""); err == nil {
		t.Fatal("empty password accepted")
	}
	if _, err := EncryptKey("zzzz", "pw"); err == nil {
		t.Fatal("non-hex key accepted")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("short key accepted")
	}
}

func TestLoadKeyRawWins(t *testing.T) {
	got, err := LoadKey(KeyConfig{
		RawPrivateKey:    "0x" + plainKey,
		EncryptedKeyPath: "/nonexistent/key.json",
	})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != plainKey {
		t.Fatalf("raw key not returned: %q", got)
	}
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(plainKey, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != plainKey {
		t.Fatalf("decrypted key mismatch: %q", got)
	}
}

func TestLoadKeyNoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	if err == nil || !strings.Contains(err.Error(), "no private key source") {
		t.Fatalf("expected missing-source error, got %v", err)
	}
}
