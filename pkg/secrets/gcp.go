package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// GCPConfig configures the Google Secret Manager backend.
type GCPConfig struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

type gcpBackend struct {
	client    *secretmanager.Client
	projectID string
}

func newGCPBackend(cfg GCPConfig) (backend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("secrets: gcp project id is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := secretmanager.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcp secretmanager client: %w", err)
	}

	return &gcpBackend{client: client, projectID: cfg.ProjectID}, nil
}

func (b *gcpBackend) fetch(ctx context.Context, ref Reference) (*Secret, error) {
	secretID := ref.Path
	if ref.Mount != "" {
		secretID = ref.Mount + "-" + ref.Path
	}

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", b.projectID, secretID)
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("gcp secretmanager AccessSecretVersion %s: %w", name, err)
	}

	payload := resp.GetPayload().GetData()
	data := map[string]string{}
	if err := json.Unmarshal(payload, &data); err != nil {
		data["value"] = string(payload)
	}

	return &Secret{Data: data}, nil
}

func (b *gcpBackend) close() error {
	return b.client.Close()
}
