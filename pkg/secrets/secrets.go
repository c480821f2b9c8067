// Package secrets provides a pluggable secrets-manager abstraction so
// configuration values (database credentials, provider API keys, JWT
// signing material) can be sourced from Vault, AWS Secrets Manager, GCP
// Secret Manager, or a Kubernetes-mounted secret volume instead of bare
// environment variables.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carpoolhq/backend/pkg/logger"
	"go.uber.org/zap"
)

// ProviderType selects which backend NewManager wires up.
type ProviderType string

const (
	ProviderNone       ProviderType = ""
	ProviderVault      ProviderType = "vault"
	ProviderAWS        ProviderType = "aws"
	ProviderGCP        ProviderType = "gcp"
	ProviderKubernetes ProviderType = "kubernetes"
)

// SecretType tags a Reference with the shape of secret it resolves to,
// used only for audit-log context.
type SecretType string

const (
	SecretDatabase SecretType = "database_credentials"
	SecretStripe   SecretType = "stripe_api_key"
	SecretTwilio   SecretType = "twilio_credentials"
	SecretSMTP     SecretType = "smtp_credentials"
	SecretFirebase SecretType = "firebase_credentials"
	SecretJWTKeys  SecretType = "jwt_signing_keys"
)

// Reference names a secret to fetch. Raw addresses are written as
// "mount/path" (Vault/Kubernetes) or a bare provider-native identifier
// (AWS secret name/ARN, GCP resource name); ParseReference splits the
// first segment off as Mount when the backend needs one.
type Reference struct {
	Name string
	Type SecretType
	Mount string
	Path string
}

// ParseReference builds a Reference from the raw environment-variable value.
// A leading "mount/" segment is captured as Mount only when the remainder
// still leaves a non-empty Path; otherwise the whole value is the Path and
// Mount is left for the manager's configured default.
func ParseReference(name string, secretType SecretType, raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("secrets: empty reference for %s", name)
	}

	ref := Reference{Name: name, Type: secretType, Path: raw}
	if idx := strings.Index(raw, "/"); idx > 0 && idx < len(raw)-1 {
		ref.Mount = raw[:idx]
		ref.Path = raw[idx+1:]
	}
	return ref, nil
}

// Secret is the resolved key/value payload for a Reference. Values are
// always strings; callers that need structured payloads decode the
// relevant keys themselves (mirrors how the DB/Stripe/Twilio/SMTP/
// Firebase references are consumed in pkg/config).
type Secret struct {
	Data map[string]string
}

// Manager resolves References against a backing secrets store.
type Manager interface {
	GetSecret(ctx context.Context, ref Reference) (*Secret, error)
	Close() error
}

// backend is the provider-specific half of Manager; NewManager wraps one
// of these in the caching/audit decorator below.
type backend interface {
	fetch(ctx context.Context, ref Reference) (*Secret, error)
	close() error
}

// Config configures NewManager. Only the sub-config matching Provider is
// consulted.
type Config struct {
	Provider         ProviderType
	CacheTTL         time.Duration
	RotationInterval time.Duration
	AuditEnabled     bool
	Vault            VaultConfig
	AWS              AWSConfig
	GCP              GCPConfig
	Kubernetes       KubernetesConfig
}

// NewManager constructs the Manager for cfg.Provider. An unrecognised
// non-empty provider is a configuration error; ProviderNone is handled by
// the caller before NewManager is invoked (see config.initializeSecrets).
func NewManager(cfg Config) (Manager, error) {
	var b backend
	var err error

	switch cfg.Provider {
	case ProviderVault:
		b, err = newVaultBackend(cfg.Vault)
	case ProviderAWS:
		b, err = newAWSBackend(cfg.AWS)
	case ProviderGCP:
		b, err = newGCPBackend(cfg.GCP)
	case ProviderKubernetes:
		b, err = newKubernetesBackend(cfg.Kubernetes)
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &cachingManager{
		backend:  b,
		provider: cfg.Provider,
		ttl:      ttl,
		audit:    cfg.AuditEnabled,
		entries:  make(map[string]cacheEntry),
	}, nil
}

type cacheEntry struct {
	secret    *Secret
	expiresAt time.Time
}

// cachingManager memoizes backend.fetch for CacheTTL and, when AuditEnabled,
// logs every resolution (never the secret payload) at INFO — the rotation
// interval is advisory for operators rotating the underlying secret and
// isn't independently enforced here beyond the cache expiring on schedule.
type cachingManager struct {
	backend
	provider ProviderType

	mu      sync.Mutex
	ttl     time.Duration
	audit   bool
	entries map[string]cacheEntry
}

func (m *cachingManager) GetSecret(ctx context.Context, ref Reference) (*Secret, error) {
	key := string(ref.Type) + "|" + ref.Mount + "|" + ref.Path

	m.mu.Lock()
	if entry, ok := m.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		m.mu.Unlock()
		return entry.secret, nil
	}
	m.mu.Unlock()

	secret, err := m.backend.fetch(ctx, ref)
	if err != nil {
		if m.audit {
			logger.Get().Warn("secrets: fetch failed",
				zap.String("provider", string(m.provider)),
				zap.String("name", ref.Name),
				zap.Error(err))
		}
		return nil, fmt.Errorf("secrets: fetch %s: %w", ref.Name, err)
	}

	if m.audit {
		logger.Get().Info("secrets: resolved",
			zap.String("provider", string(m.provider)),
			zap.String("name", ref.Name),
			zap.String("type", string(ref.Type)))
	}

	m.mu.Lock()
	m.entries[key] = cacheEntry{secret: secret, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	return secret, nil
}

func (m *cachingManager) Close() error {
	return m.backend.close()
}
