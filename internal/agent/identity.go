package agent

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tamsilcms/agent/pkg/models"
)

// LoadOrCreateIdentity reads the three-line agent_identity.txt at path
// if present, or generates and persists a new AgentIdentity otherwise,
// per spec.md §6. The private key is encrypted at rest with AES-GCM
// under a key derived from identityID (an Open Question spec.md leaves
// unresolved — see DESIGN.md for the decision).
func LoadOrCreateIdentity(path, identityID string) (*models.AgentIdentity, error) {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		return readIdentity(f)
	}

	id, err := generateIdentity(identityID)
	if err != nil {
		return nil, err
	}
	if err := writeIdentity(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func readIdentity(f *os.File) (*models.AgentIdentity, error) {
	sc := bufio.NewScanner(f)
	lines := make([]string, 0, 3)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "agent: read identity file")
	}
	if len(lines) != 3 {
		return nil, errors.New("agent: malformed identity file, expected exactly 3 lines")
	}
	return &models.AgentIdentity{UUID: lines[0], PublicKeyPEM: lines[1], EncryptedPrivateKeyBlob: lines[2]}, nil
}

func writeIdentity(path string, id *models.AgentIdentity) error {
	content := id.UUID + "\n" + id.PublicKeyPEM + "\n" + id.EncryptedPrivateKeyBlob + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

func generateIdentity(identityID string) (*models.AgentIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "agent: generate identity keypair")
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "agent: marshal public key")
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	pubLine := base64.StdEncoding.EncodeToString(pubPEM)

	privDER := x509.MarshalPKCS1PrivateKey(key)
	encBlob, err := encryptPrivateKey(identityID, privDER)
	if err != nil {
		return nil, err
	}

	return &models.AgentIdentity{
		UUID:                    uuid.NewString(),
		PublicKeyPEM:            pubLine,
		EncryptedPrivateKeyBlob: encBlob,
	}, nil
}

func encryptPrivateKey(identityID string, plaintext []byte) (string, error) {
	key := sha256.Sum256([]byte(identityID))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", errors.Wrap(err, "agent: build AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "agent: build AES-GCM")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "agent: generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}
