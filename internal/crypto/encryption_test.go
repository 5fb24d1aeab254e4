package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEncryptor(t *testing.T) *Encryptor {
	t.Helper()

	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	encryptor, err := NewEncryptor(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return encryptor
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		expectError bool
	}{
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
		{name: "invalid base64", key: "not-valid-base64!!!", expectError: true},
		{name: "wrong key length", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encryptor, err := NewEncryptor(tt.key)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, encryptor)
		})
	}
}

func TestSealOpen(t *testing.T) {
	encryptor := testEncryptor(t)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"simple password", "mypassword123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"empty string", ""},
		{"unicode", "пароль密码🔐"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := encryptor.Seal("mailsync:a@example.com", tc.plaintext)
			require.NoError(t, err)
			assert.NotEmpty(t, sealed)

			opened, err := encryptor.Open("mailsync:a@example.com", sealed)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, opened)
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	encryptor := testEncryptor(t)

	first, err := encryptor.Seal("label", "same password")
	require.NoError(t, err)
	second, err := encryptor.Seal("label", "same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestOpenRejects(t *testing.T) {
	encryptor := testEncryptor(t)
	sealed, err := encryptor.Seal("mailsync:a@example.com", "secret")
	require.NoError(t, err)

	t.Run("too short", func(t *testing.T) {
		_, err := encryptor.Open("mailsync:a@example.com", []byte("short"))
		assert.Error(t, err)
	})

	t.Run("corrupted data", func(t *testing.T) {
		corrupted := append([]byte(nil), sealed...)
		corrupted[len(corrupted)-1] ^= 0xFF
		_, err := encryptor.Open("mailsync:a@example.com", corrupted)
		assert.Error(t, err)
	})

	t.Run("different label", func(t *testing.T) {
		_, err := encryptor.Open("mailsync:b@example.com", sealed)
		assert.Error(t, err)
	})
}
