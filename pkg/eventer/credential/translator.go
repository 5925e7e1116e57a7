// Package credential translates client-held eventer tokens into backend
// credentials. Tokens are base64 AES-CBC ciphertexts produced with static key
// material; the gateway never needs to ask the backend to resolve them.
package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrCredential is wrapped by every translation failure.
var ErrCredential = errors.New("invalid credential")

// Secrets is the static key material. Key is MasterKey+Salt and the IV is
// Salt+Pepper, both used as raw bytes.
type Secrets struct {
	MasterKey string
	Salt      string
	Pepper    string
}

// Translator is safe for concurrent use.
type Translator struct {
	block cipher.Block
	iv    []byte
}

// NewTranslator validates the secret lengths and prepares the cipher. The
// key must be 16, 24 or 32 bytes and the IV exactly one AES block.
func NewTranslator(secrets Secrets) (*Translator, error) {
	key := []byte(secrets.MasterKey + secrets.Salt)
	iv := []byte(secrets.Salt + secrets.Pepper)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: master key + salt must be 16, 24 or 32 bytes, got %d: %w", len(key), err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("credential: salt + pepper must be %d bytes, got %d", aes.BlockSize, len(iv))
	}

	return &Translator{block: block, iv: iv}, nil
}

// Decrypt recovers the backend credential from an opaque token.
func (t *Translator) Decrypt(opaque string) (string, error) {
	input, err := base64.StdEncoding.DecodeString(strings.TrimSpace(opaque))
	if err != nil {
		return "", fmt.Errorf("%w: bad base64: %v", ErrCredential, err)
	}
	if len(input) == 0 || len(input)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrCredential, len(input), aes.BlockSize)
	}

	plain := make([]byte, len(input))
	cipher.NewCBCDecrypter(t.block, t.iv).CryptBlocks(plain, input)

	plain, err = unpad(plain)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(plain)), nil
}

// Encrypt produces the opaque token for a backend credential.
func (t *Translator) Encrypt(plain string) (string, error) {
	padded := pad([]byte(plain))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(t.block, t.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrCredential)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCredential)
		}
	}
	return data[:len(data)-n], nil
}
