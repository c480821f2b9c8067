package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig configures the AWS Secrets Manager backend.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	Endpoint        string
}

type awsBackend struct {
	client *secretsmanager.Client
}

func newAWSBackend(cfg AWSConfig) (backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})

	return &awsBackend{client: client}, nil
}

func (b *awsBackend) fetch(ctx context.Context, ref Reference) (*Secret, error) {
	id := ref.Path
	if ref.Mount != "" {
		id = ref.Mount + "/" + ref.Path
	}

	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return nil, fmt.Errorf("aws secretsmanager GetSecretValue %s: %w", id, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("aws secretsmanager: %s has no SecretString payload", id)
	}

	data := map[string]string{}
	if err := json.Unmarshal([]byte(*out.SecretString), &data); err != nil {
		// Not a JSON object; treat the whole string as a single "value" field.
		data["value"] = *out.SecretString
	}

	return &Secret{Data: data}, nil
}

func (b *awsBackend) close() error {
	return nil
}
