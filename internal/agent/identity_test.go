package agent

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_identity.txt")

	first, err := LoadOrCreateIdentity(path, "identity-1")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (create): %v", err)
	}
	if first.UUID == "" || first.PublicKeyPEM == "" || first.EncryptedPrivateKeyBlob == "" {
		t.Fatalf("expected a fully populated identity, got %+v", first)
	}

	second, err := LoadOrCreateIdentity(path, "identity-1")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (reload): %v", err)
	}
	if second.UUID != first.UUID || second.PublicKeyPEM != first.PublicKeyPEM || second.EncryptedPrivateKeyBlob != first.EncryptedPrivateKeyBlob {
		t.Fatalf("expected reload to return the identical persisted identity")
	}
}

func TestGenerateIdentityProducesDistinctUUIDs(t *testing.T) {
	a, err := generateIdentity("id-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateIdentity("id-b")
	if err != nil {
		t.Fatal(err)
	}
	if a.UUID == b.UUID {
		t.Fatal("expected distinct UUIDs across identities")
	}
}

func TestEncryptPrivateKeyRoundTripsViaDecryption(t *testing.T) {
	plaintext := []byte("super-secret-key-material")
	blob, err := encryptPrivateKey("identity-xyz", plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if blob == "" {
		t.Fatal("expected non-empty encrypted blob")
	}

	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	key := sha256.Sum256([]byte("identity-xyz"))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}
	ns := gcm.NonceSize()
	decrypted, err := gcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		t.Fatalf("decrypt blob: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("expected decrypted blob to equal plaintext, got %q", decrypted)
	}

	other, err := encryptPrivateKey("identity-xyz", plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if blob == other {
		t.Fatal("expected distinct ciphertexts across calls due to random nonce")
	}
}
