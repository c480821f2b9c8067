package secrets

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// VaultConfig configures the HashiCorp Vault backend. MountPath is the KV
// mount ("secret" for KV v2 by default) consulted when a Reference carries
// no mount segment of its own.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	MountPath     string
	CACert        string
	CAPath        string
	ClientCert    string
	ClientKey     string
	TLSSkipVerify bool
}

type vaultBackend struct {
	client    *vaultapi.Client
	mountPath string
}

func newVaultBackend(cfg VaultConfig) (backend, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("secrets: vault address is required")
	}

	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Address

	tlsConfig := &vaultapi.TLSConfig{
		CACert:        cfg.CACert,
		CAPath:        cfg.CAPath,
		ClientCert:    cfg.ClientCert,
		ClientKey:     cfg.ClientKey,
		Insecure:      cfg.TLSSkipVerify,
	}
	if err := vcfg.ConfigureTLS(tlsConfig); err != nil {
		return nil, fmt.Errorf("secrets: configure vault tls: %w", err)
	}

	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: new vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	return &vaultBackend{client: client, mountPath: mount}, nil
}

func (b *vaultBackend) fetch(ctx context.Context, ref Reference) (*Secret, error) {
	mount := ref.Mount
	if mount == "" {
		mount = b.mountPath
	}

	// KV v2 nests the payload under "data" within the secret's own "data".
	logicalPath := fmt.Sprintf("%s/data/%s", mount, ref.Path)
	resp, err := b.client.Logical().ReadWithContext(ctx, logicalPath)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", logicalPath, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", logicalPath)
	}

	raw, ok := resp.Data["data"].(map[string]interface{})
	if !ok {
		// Fall back to KV v1 shape where fields sit at the top level.
		raw = resp.Data
	}

	data := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			data[k] = s
		}
	}

	return &Secret{Data: data}, nil
}

func (b *vaultBackend) close() error {
	return nil
}
