package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return svc
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	_, err := NewService("too-short")
	assert.Error(t, err)
}

func TestEncryptDecryptPIIRoundTrip(t *testing.T) {
	svc := testService(t)
	plaintext := []byte(`{"name":"Thandiwe Nkosi","email":"thandiwe@example.com"}`)

	blob, err := svc.EncryptPII("user-1", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	decrypted, err := svc.DecryptPII("user-1", blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptPIIWrongUserFails(t *testing.T) {
	svc := testService(t)
	blob, err := svc.EncryptPII("user-1", []byte("secret"))
	require.NoError(t, err)

	_, err = svc.DecryptPII("user-2", blob)
	assert.Error(t, err)
}

func TestDecryptPIIRejectsShortBlob(t *testing.T) {
	svc := testService(t)
	_, err := svc.DecryptPII("user-1", []byte("x"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestHashForLookupDeterministicAndCaseInsensitive(t *testing.T) {
	svc := testService(t)
	a := svc.HashForLookup("Rider@Example.com")
	b := svc.HashForLookup("rider@example.com")
	assert.Equal(t, a, b)

	c := svc.HashForLookup("other@example.com")
	assert.NotEqual(t, a, c)
}

func TestHashPasswordAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, "correct horse battery staple"))
	assert.False(t, VerifyPassword(hash, "wrong password"))
}
