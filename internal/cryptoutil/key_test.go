package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestParseKeyEncodings(t *testing.T) {
	key := testKey()
	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(key)+"\n"), 0o600))

	for name, input := range map[string]string{
		"bare base64":     base64.StdEncoding.EncodeToString(key),
		"prefixed base64": "base64:" + base64.StdEncoding.EncodeToString(key),
		"prefixed hex":    "hex:" + hex.EncodeToString(key),
		"key file":        "file:" + keyFile,
	} {
		t.Run(name, func(t *testing.T) {
			parsed, err := ParseKey(input)
			require.NoError(t, err)
			assert.Equal(t, key, parsed)
		})
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	_, err := ParseKey("")
	assert.Error(t, err)

	_, err = ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "invalid key length")
}

func TestConfigEncryptionRoundTrip(t *testing.T) {
	plain := []byte("backup:\n  dir: /srv/backups\n")
	sealed, err := EncryptConfig(plain, testKey())
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "/srv/backups")

	opened, err := DecryptConfig(sealed, testKey())
	require.NoError(t, err)
	assert.Equal(t, plain, opened)

	wrong := testKey()
	wrong[0] ^= 0xff
	_, err = DecryptConfig(sealed, wrong)
	assert.Error(t, err)

	_, err = DecryptConfig([]byte("XXXX\x00\x02rest"), testKey())
	assert.ErrorContains(t, err, "invalid config header")
}
