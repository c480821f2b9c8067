package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReferenceSplitsMountAndPath(t *testing.T) {
	ref, err := ParseReference("stripe_api_key", SecretStripe, "secret/ridehailing/stripe")
	require.NoError(t, err)
	assert.Equal(t, "secret", ref.Mount)
	assert.Equal(t, "ridehailing/stripe", ref.Path)
	assert.Equal(t, SecretStripe, ref.Type)
}

func TestParseReferenceWithoutMountKeepsWholeValueAsPath(t *testing.T) {
	ref, err := ParseReference("jwt_signing_keys", SecretJWTKeys, "jwt-keys")
	require.NoError(t, err)
	assert.Empty(t, ref.Mount)
	assert.Equal(t, "jwt-keys", ref.Path)
}

func TestParseReferenceRejectsEmptyValue(t *testing.T) {
	_, err := ParseReference("database_credentials", SecretDatabase, "  ")
	assert.Error(t, err)
}

func TestKubernetesBackendReadsFilesAsKeys(t *testing.T) {
	dir := t.TempDir()
	secretDir := filepath.Join(dir, "db", "credentials")
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "username"), []byte("app"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "password"), []byte("s3cr3t"), 0o600))

	b, err := newKubernetesBackend(KubernetesConfig{BasePath: dir})
	require.NoError(t, err)

	secret, err := b.fetch(context.Background(), Reference{Mount: "db", Path: "credentials"})
	require.NoError(t, err)
	assert.Equal(t, "app", secret.Data["username"])
	assert.Equal(t, "s3cr3t", secret.Data["password"])
}

func TestKubernetesBackendMissingDirErrors(t *testing.T) {
	b, err := newKubernetesBackend(KubernetesConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = b.fetch(context.Background(), Reference{Mount: "missing", Path: "nope"})
	assert.Error(t, err)
}

type stubBackend struct {
	calls int
	data  map[string]string
}

func (s *stubBackend) fetch(ctx context.Context, ref Reference) (*Secret, error) {
	s.calls++
	return &Secret{Data: s.data}, nil
}

func (s *stubBackend) close() error { return nil }

func TestCachingManagerMemoizesWithinTTL(t *testing.T) {
	stub := &stubBackend{data: map[string]string{"k": "v"}}
	m := &cachingManager{backend: stub, ttl: time.Hour, entries: make(map[string]cacheEntry)}

	ref := Reference{Name: "x", Path: "x"}
	_, err := m.GetSecret(context.Background(), ref)
	require.NoError(t, err)
	_, err = m.GetSecret(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls)
}
