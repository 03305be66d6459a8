package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/rs/zerolog"
)

// secretsAPI is the slice of the Secrets Manager client this provider uses.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider resolves credentials from AWS Secrets Manager. The
// secret payload is a JSON document {"identity": "...", "secret": "..."}; a
// plain string payload is treated as the secret alone.
type SecretsManagerProvider struct {
	api    secretsAPI
	logger zerolog.Logger
}

// NewSecretsManagerProvider creates a provider using the default AWS
// credential chain in the given region.
func NewSecretsManagerProvider(ctx context.Context, region string, logger zerolog.Logger) (*SecretsManagerProvider, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SecretsManagerProvider{
		api:    secretsmanager.NewFromConfig(cfg),
		logger: logger.With().Str("component", "credentials").Logger(),
	}, nil
}

type secretPayload struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// Resolve fetches the secret behind the reference. Missing references map to
// ErrNotFound; transport and permission failures map to ErrStoreUnavailable.
func (p *SecretsManagerProvider) Resolve(ctx context.Context, ref string) (*Credential, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty credential reference: %w", ErrNotFound)
	}

	result, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("secret %s does not exist: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get secret %s: %v: %w", ref, err, ErrStoreUnavailable)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value: %w", ref, ErrNotFound)
	}

	cred := &Credential{Source: string(KindSecretsManager)}
	var payload secretPayload
	if err := json.Unmarshal([]byte(*result.SecretString), &payload); err == nil && payload.Secret != "" {
		cred.Identity = payload.Identity
		cred.Secret = payload.Secret
	} else {
		cred.Secret = *result.SecretString
	}

	p.logger.Debug().Str("ref", ref).Msg("Resolved credential from secrets manager")
	return cred, nil
}
