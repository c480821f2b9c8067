package secrets

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KubernetesConfig configures the file-mounted-secret backend: each
// Reference resolves to a directory under BasePath/<mount>/<path> whose
// files are individual keys (the shape produced by a Secret volume mount),
// mirroring how the Vault Agent Injector or CSI secrets-store driver lay
// files on disk.
type KubernetesConfig struct {
	BasePath string
}

type kubernetesBackend struct {
	basePath string
}

func newKubernetesBackend(cfg KubernetesConfig) (backend, error) {
	base := cfg.BasePath
	if base == "" {
		base = "/var/run/secrets/ride-hailing"
	}
	return &kubernetesBackend{basePath: base}, nil
}

func (b *kubernetesBackend) fetch(ctx context.Context, ref Reference) (*Secret, error) {
	dir := filepath.Join(b.basePath, ref.Mount, ref.Path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("kubernetes secret volume %s: %w", dir, err)
	}

	data := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		value, err := readSecretFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("kubernetes secret volume %s/%s: %w", dir, entry.Name(), err)
		}
		data[entry.Name()] = value
	}

	return &Secret{Data: data}, nil
}

func readSecretFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var b strings.Builder
	for scanner.Scan() {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (b *kubernetesBackend) close() error {
	return nil
}
