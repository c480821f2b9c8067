package jwtkeys

import (
	"context"
	"encoding/json"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"
)

// vaultStore persists the signing-key set as a single KV v2 secret, letting
// JWT signing material be rotated and distributed the same way as any other
// production secret instead of living on a pod's local disk.
type vaultStore struct {
	client *vaultapi.Client
	mount  string
	path   string
}

func newVaultStore(address, token, namespace, path string) (*vaultStore, error) {
	if address == "" || path == "" {
		return nil, fmt.Errorf("jwtkeys: vault address and path are required")
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("jwtkeys: new vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	if namespace != "" {
		client.SetNamespace(namespace)
	}

	mount, secretPath := "secret", path
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			mount, secretPath = path[:i], path[i+1:]
			break
		}
	}

	return &vaultStore{client: client, mount: mount, path: secretPath}, nil
}

func (s *vaultStore) Load(ctx context.Context) ([]SigningKey, error) {
	resp, err := s.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/data/%s", s.mount, s.path))
	if err != nil {
		return nil, fmt.Errorf("jwtkeys: vault read: %w", err)
	}
	if resp == nil || resp.Data == nil {
		return nil, nil
	}

	inner, ok := resp.Data["data"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	raw, ok := inner["keys"].(string)
	if !ok || raw == "" {
		return nil, nil
	}

	var keys []SigningKey
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("jwtkeys: decode vault payload: %w", err)
	}
	return keys, nil
}

func (s *vaultStore) Save(ctx context.Context, keys []SigningKey) error {
	encoded, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("jwtkeys: encode keys: %w", err)
	}

	_, err = s.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/data/%s", s.mount, s.path), map[string]interface{}{
		"data": map[string]interface{}{
			"keys": string(encoded),
		},
	})
	if err != nil {
		return fmt.Errorf("jwtkeys: vault write: %w", err)
	}
	return nil
}
