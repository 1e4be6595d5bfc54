package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// AWSConfig configures an AWSBackend.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// secretsManagerAPI is the subset of the Secrets Manager client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSBackend reads secrets from AWS Secrets Manager. Each secret is stored
// as a plain string under the id <prefix>/<tenant>/<NAME>.
type AWSBackend struct {
	client secretsManagerAPI
	prefix string
}

// NewAWSBackend loads the default AWS credential chain for region. Prefix
// defaults to "agentgraph".
func NewAWSBackend(ctx context.Context, cfg AWSConfig) (*AWSBackend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newAWSBackend(secretsmanager.NewFromConfig(awsCfg), cfg.Prefix), nil
}

func newAWSBackend(client secretsManagerAPI, prefix string) *AWSBackend {
	if prefix == "" {
		prefix = "agentgraph"
	}
	return &AWSBackend{client: client, prefix: prefix}
}

// Lookup implements Backend.
func (b *AWSBackend) Lookup(ctx context.Context, tenantID, name string) (string, error) {
	id := b.prefix + "/" + tenantID + "/" + name
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("secretsmanager get %s: %w", id, err)
	}

	switch {
	case out.SecretString != nil && *out.SecretString != "":
		return *out.SecretString, nil
	case len(out.SecretBinary) > 0:
		return string(out.SecretBinary), nil
	}
	return "", ErrSecretNotFound
}
