package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecrets = Secrets{MasterKey: "Carab!", Salt: "EventerKOD", Pepper: "#Test~"}

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := NewTranslator(testSecrets)
	require.NoError(t, err)
	return tr
}

func TestNewTranslatorValidatesLengths(t *testing.T) {
	_, err := NewTranslator(Secrets{MasterKey: "short", Salt: "EventerKOD", Pepper: "#Test~"})
	assert.Error(t, err)

	_, err = NewTranslator(Secrets{MasterKey: "Carab!", Salt: "EventerKOD", Pepper: "x"})
	assert.Error(t, err)

	_, err = NewTranslator(testSecrets)
	assert.NoError(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	tr := newTestTranslator(t)

	for _, plain := range []string{"soap-token-1", "", "exactly16bytes!!", "ключ"} {
		opaque, err := tr.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, opaque)

		got, err := tr.Decrypt(opaque)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestDecryptTrimsWhitespace(t *testing.T) {
	tr := newTestTranslator(t)

	opaque, err := tr.Encrypt("  padded token \n")
	require.NoError(t, err)

	got, err := tr.Decrypt(opaque)
	require.NoError(t, err)
	assert.Equal(t, "padded token", got)
}

func TestDecryptFailures(t *testing.T) {
	tr := newTestTranslator(t)

	t.Run("bad base64", func(t *testing.T) {
		_, err := tr.Decrypt("%%%not-base64")
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("wrong block size", func(t *testing.T) {
		_, err := tr.Decrypt(base64.StdEncoding.EncodeToString([]byte("tooshort")))
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := tr.Decrypt("")
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("bad padding", func(t *testing.T) {
		// A block whose last plaintext byte is zero can never be valid padding.
		plain := make([]byte, aes.BlockSize)
		raw := make([]byte, aes.BlockSize)
		cipher.NewCBCEncrypter(tr.block, tr.iv).CryptBlocks(raw, plain)

		_, err := tr.Decrypt(base64.StdEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, ErrCredential)
	})

	t.Run("flipped byte", func(t *testing.T) {
		opaque, err := tr.Encrypt("soap-token-1")
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(opaque)
		require.NoError(t, err)
		raw[0] ^= 0x01

		got, err := tr.Decrypt(base64.StdEncoding.EncodeToString(raw))
		if err == nil {
			assert.NotEqual(t, "soap-token-1", got)
		}
	})
}

func TestDifferentSecretsDoNotInteroperate(t *testing.T) {
	a := newTestTranslator(t)
	b, err := NewTranslator(Secrets{MasterKey: "Other!", Salt: "EventerKOD", Pepper: "#Test~"})
	require.NoError(t, err)

	opaque, err := a.Encrypt("soap-token-1")
	require.NoError(t, err)

	got, err := b.Decrypt(opaque)
	if err == nil {
		assert.NotEqual(t, "soap-token-1", got)
	}
}
