package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/deploy-engine/internal/builder"
)

type fakePusher struct {
	tagged  map[string]string // target -> source
	pushed  []string
	auths   map[string]dockerregistry.AuthConfig
	tagErr  map[string]error
	pushErr map[string]error
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		tagged:  map[string]string{},
		auths:   map[string]dockerregistry.AuthConfig{},
		tagErr:  map[string]error{},
		pushErr: map[string]error{},
	}
}

func (f *fakePusher) Tag(_ context.Context, source, target string) error {
	if err := f.tagErr[target]; err != nil {
		return err
	}
	f.tagged[target] = source
	return nil
}

func (f *fakePusher) Push(_ context.Context, ref string, auth dockerregistry.AuthConfig) error {
	if err := f.pushErr[ref]; err != nil {
		return err
	}
	f.pushed = append(f.pushed, ref)
	f.auths[ref] = auth
	return nil
}

type fakeECRAPI struct {
	createdRepos []string
	createErr    error
	tokenErr     error
	password     string
	tokenCalls   int
}

func (f *fakeECRAPI) CreateRepository(_ context.Context, params *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.createdRepos = append(f.createdRepos, aws.ToString(params.RepositoryName))
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &ecr.CreateRepositoryOutput{}, nil
}

func (f *fakeECRAPI) GetAuthorizationToken(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.tokenCalls++
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	token := base64.StdEncoding.EncodeToString([]byte("AWS:" + f.password))
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{
			{AuthorizationToken: aws.String(token)},
		},
	}, nil
}

type fakeSTSAPI struct {
	account string
	err     error
}

func (f *fakeSTSAPI) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

func ecrPublisherForTest(pusher imagePusher, api *fakeECRAPI, stsFake *fakeSTSAPI) *ECRPublisher {
	return &ECRPublisher{
		pusher: pusher,
		logger: zerolog.Nop(),
		newClients: func(context.Context, string, string) (ecrAPI, stsAPI, error) {
			return api, stsFake, nil
		},
	}
}

func testArtifact() *builder.Artifact {
	return &builder.Artifact{ImageID: "sha256:abc", LocalTag: "demo:2.0.0", AppName: "demo", Version: "2.0.0"}
}

func TestECRPublish(t *testing.T) {
	pusher := newFakePusher()
	api := &fakeECRAPI{password: "ecr-token"}
	p := ecrPublisherForTest(pusher, api, &fakeSTSAPI{account: "123456789012"})

	result, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "Demo",
		Version: "2.0.0",
		Region:  "us-east-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0", result.Image.URI)
	assert.Equal(t, "123456789012", result.Image.AccountID)
	assert.Equal(t, KindECR, result.Image.Registry)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, []string{"demo"}, api.createdRepos)
	assert.Equal(t, 1, api.tokenCalls)

	versioned := "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0"
	latest := "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:latest"
	assert.Equal(t, []string{versioned, latest}, pusher.pushed)
	assert.Equal(t, "demo:2.0.0", pusher.tagged[versioned])
	assert.Equal(t, "demo:2.0.0", pusher.tagged[latest])
	assert.Equal(t, []string{versioned, latest}, result.LocalTags)

	auth := pusher.auths[versioned]
	assert.Equal(t, "AWS", auth.Username)
	assert.Equal(t, "ecr-token", auth.Password)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com", auth.ServerAddress)
}

func TestECRPublishRepositoryAlreadyExists(t *testing.T) {
	pusher := newFakePusher()
	api := &fakeECRAPI{
		password:  "tok",
		createErr: &ecrtypes.RepositoryAlreadyExistsException{Message: aws.String("exists")},
	}
	p := ecrPublisherForTest(pusher, api, &fakeSTSAPI{account: "123456789012"})

	_, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "demo", Version: "2.0.0", Region: "eu-west-1",
	})

	require.NoError(t, err)
	assert.Len(t, pusher.pushed, 2)
}

func TestECRPublishRepositoryProvisionFailure(t *testing.T) {
	pusher := newFakePusher()
	api := &fakeECRAPI{createErr: fmt.Errorf("LimitExceededException")}
	p := ecrPublisherForTest(pusher, api, &fakeSTSAPI{account: "123456789012"})

	_, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "demo", Version: "2.0.0", Region: "us-east-1",
	})

	var provisionErr ErrRepositoryProvision
	require.True(t, errors.As(err, &provisionErr))
	assert.Equal(t, "demo", provisionErr.Repository)
	assert.Empty(t, pusher.pushed)
}

func TestECRPublishVersionedPushFailureIsFatal(t *testing.T) {
	pusher := newFakePusher()
	versioned := "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0"
	pusher.pushErr[versioned] = errors.New("denied")
	api := &fakeECRAPI{password: "tok"}
	p := ecrPublisherForTest(pusher, api, &fakeSTSAPI{account: "123456789012"})

	_, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "demo", Version: "2.0.0", Region: "us-east-1",
	})

	var pushErr ErrPushFailed
	require.True(t, errors.As(err, &pushErr))
	assert.Equal(t, versioned, pushErr.ImageTag)
}

func TestECRPublishLatestPushFailureDegrades(t *testing.T) {
	pusher := newFakePusher()
	latest := "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:latest"
	pusher.pushErr[latest] = errors.New("denied")
	api := &fakeECRAPI{password: "tok"}
	p := ecrPublisherForTest(pusher, api, &fakeSTSAPI{account: "123456789012"})

	result, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "demo", Version: "2.0.0", Region: "us-east-1",
	})

	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "latest")
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/demo:2.0.0", result.Image.URI)
}

func TestECRPublishMissingRegion(t *testing.T) {
	p := ecrPublisherForTest(newFakePusher(), &fakeECRAPI{}, &fakeSTSAPI{})

	_, err := p.Publish(context.Background(), testArtifact(), PublishRequest{AppName: "demo", Version: "2.0.0"})

	var authErr ErrAuthenticationFailed
	require.True(t, errors.As(err, &authErr))
}

func TestECRPublishIdentityResolutionFailure(t *testing.T) {
	p := ecrPublisherForTest(newFakePusher(), &fakeECRAPI{}, &fakeSTSAPI{err: errors.New("no credentials")})

	_, err := p.Publish(context.Background(), testArtifact(), PublishRequest{
		AppName: "demo", Version: "2.0.0", Region: "us-east-1",
	})

	var authErr ErrAuthenticationFailed
	require.True(t, errors.As(err, &authErr))
}
