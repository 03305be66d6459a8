package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
)

// ecrAPI is the slice of the ECR client the publisher uses.
type ecrAPI interface {
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// stsAPI resolves the caller's AWS account.
type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ECRPublisher pushes images to AWS Elastic Container Registry. It never
// takes a static credential: authentication runs through the AWS credential
// chain, and the registry token is fetched fresh for every publish because
// ECR tokens expire within hours.
type ECRPublisher struct {
	pusher     imagePusher
	logger     zerolog.Logger
	newClients func(ctx context.Context, region, profile string) (ecrAPI, stsAPI, error)
}

// NewECRPublisher creates an ECR publisher on top of the daemon API.
func NewECRPublisher(api PushAPI, logger zerolog.Logger) *ECRPublisher {
	return &ECRPublisher{
		pusher:     newEnginePusher(api, logger),
		logger:     logger.With().Str("component", "registry").Str("registry", string(KindECR)).Logger(),
		newClients: defaultECRClients,
	}
}

// Kind returns KindECR.
func (p *ECRPublisher) Kind() Kind {
	return KindECR
}

// Publish resolves the account, provisions the repository if needed, and
// pushes the versioned and latest tags. The resulting URI has the form
// <account>.dkr.ecr.<region>.amazonaws.com/<app>:<version>.
func (p *ECRPublisher) Publish(ctx context.Context, artifact *builder.Artifact, req PublishRequest) (*PublishResult, error) {
	start := time.Now()

	if req.Region == "" {
		return nil, ErrAuthenticationFailed{Registry: string(KindECR), Err: errors.New("region is required")}
	}

	ecrClient, stsClient, err := p.newClients(ctx, req.Region, req.Identity)
	if err != nil {
		return nil, ErrAuthenticationFailed{Registry: string(KindECR), Err: err}
	}

	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, ErrAuthenticationFailed{Registry: string(KindECR), Err: fmt.Errorf("failed to get caller identity: %w", err)}
	}
	accountID := aws.ToString(identity.Account)

	repoName := strings.ToLower(req.AppName)
	if err := p.ensureRepository(ctx, ecrClient, repoName); err != nil {
		return nil, err
	}

	auth, registryHost, err := p.authorize(ctx, ecrClient, accountID, req.Region)
	if err != nil {
		return nil, err
	}

	versionedRef := fmt.Sprintf("%s/%s:%s", registryHost, repoName, req.Version)
	latestRef := fmt.Sprintf("%s/%s:latest", registryHost, repoName)

	result := &PublishResult{
		Image: PublishedImage{
			URI:       versionedRef,
			Registry:  KindECR,
			AccountID: accountID,
		},
	}

	if err := p.pusher.Tag(ctx, artifact.LocalTag, versionedRef); err != nil {
		return nil, ErrPushFailed{ImageTag: versionedRef, Err: err}
	}
	result.LocalTags = append(result.LocalTags, versionedRef)
	if err := p.pusher.Push(ctx, versionedRef, auth); err != nil {
		return nil, ErrPushFailed{ImageTag: versionedRef, Err: err}
	}

	// The latest tag is best effort: a miss degrades the run, never fails it.
	if err := p.pusher.Tag(ctx, artifact.LocalTag, latestRef); err != nil {
		p.logger.Warn().Err(err).Str("ref", latestRef).Msg("Failed to tag latest")
		result.Warnings = append(result.Warnings, fmt.Sprintf("latest tag not updated: %v", err))
	} else {
		result.LocalTags = append(result.LocalTags, latestRef)
		if err := p.pusher.Push(ctx, latestRef, auth); err != nil {
			p.logger.Warn().Err(err).Str("ref", latestRef).Msg("Failed to push latest")
			result.Warnings = append(result.Warnings, fmt.Sprintf("latest tag not updated: %v", err))
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info().
		Str("uri", versionedRef).
		Str("account_id", accountID).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Image published")

	return result, nil
}

// ensureRepository creates the repository, treating "already exists" as
// success so repeated deployments of the same app are idempotent.
func (p *ECRPublisher) ensureRepository(ctx context.Context, client ecrAPI, repoName string) error {
	_, err := client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repoName),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		Tags: []ecrtypes.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("deploy-engine")},
		},
	})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			p.logger.Debug().Str("repository", repoName).Msg("Repository already exists")
			return nil
		}
		return ErrRepositoryProvision{Repository: repoName, Err: err}
	}

	p.logger.Info().Str("repository", repoName).Msg("Repository created")
	return nil
}

// authorize fetches a fresh registry token and decodes it into the
// username/password pair the daemon push expects.
func (p *ECRPublisher) authorize(ctx context.Context, client ecrAPI, accountID, region string) (dockerregistry.AuthConfig, string, error) {
	registryHost := fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, region)

	output, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return dockerregistry.AuthConfig{}, "", ErrAuthenticationFailed{Registry: registryHost, Err: err}
	}
	if len(output.AuthorizationData) == 0 || output.AuthorizationData[0].AuthorizationToken == nil {
		return dockerregistry.AuthConfig{}, "", ErrAuthenticationFailed{Registry: registryHost, Err: errors.New("no authorization data returned")}
	}

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(output.AuthorizationData[0].AuthorizationToken))
	if err != nil {
		return dockerregistry.AuthConfig{}, "", ErrAuthenticationFailed{Registry: registryHost, Err: fmt.Errorf("failed to decode authorization token: %w", err)}
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return dockerregistry.AuthConfig{}, "", ErrAuthenticationFailed{Registry: registryHost, Err: errors.New("malformed authorization token")}
	}

	return dockerregistry.AuthConfig{
		Username:      parts[0],
		Password:      parts[1],
		ServerAddress: registryHost,
	}, registryHost, nil
}

func defaultECRClients(ctx context.Context, region, profile string) (ecrAPI, stsAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return ecr.NewFromConfig(cfg), sts.NewFromConfig(cfg), nil
}
