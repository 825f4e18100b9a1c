package tg3442

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen     = 16
	iterations = 1000
	tagSize    = 16
	nonceSize  = 13

	authLogin = "loginPassword"
	authNonce = "nonce"
)

// envelope encrypts and decrypts payloads the way the web UI's sjcl code does.
type envelope struct {
	aead  ccm.CCM
	nonce []byte
}

func newEnvelope(password string, saltHex, ivHex string) (*envelope, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	if len(iv) < nonceSize {
		return nil, fmt.Errorf("iv too short: %d bytes", len(iv))
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := ccm.NewCCM(block, tagSize, nonceSize)
	if err != nil {
		return nil, err
	}
	return &envelope{aead: aead, nonce: iv[:nonceSize]}, nil
}

// seal returns hex(ciphertext || tag).
func (e *envelope) seal(plaintext []byte, authData string) string {
	return hex.EncodeToString(e.aead.Seal(nil, e.nonce, plaintext, []byte(authData)))
}

func (e *envelope) open(sealedHex, authData string) ([]byte, error) {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, err
	}
	return e.aead.Open(nil, e.nonce, sealed, []byte(authData))
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
