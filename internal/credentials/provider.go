// Package credentials resolves registry and cloud secrets at the moment they
// are needed. Secrets exist only in process memory: the Credential type
// redacts itself in logs and JSON, and nothing in this package writes to disk.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Redacted replaces secret material wherever a credential is rendered.
const Redacted = "[REDACTED]"

var (
	// ErrNotFound indicates the credential reference does not exist in the
	// backing store.
	ErrNotFound = errors.New("credential not found")
	// ErrStoreUnavailable indicates the backing store could not be reached or
	// refused the request.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Credential is a resolved identity/secret pair. Identity may be empty for
// stores that only hold a token.
type Credential struct {
	Identity string
	Secret   string
	// Source names the provider that resolved the credential, for audit.
	Source string
}

// String renders the credential with the secret redacted.
func (c Credential) String() string {
	return fmt.Sprintf("credential{identity:%s secret:%s source:%s}", c.Identity, Redacted, c.Source)
}

// MarshalJSON never emits the secret.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Identity string `json:"identity"`
		Secret   string `json:"secret"`
		Source   string `json:"source"`
	}{
		Identity: c.Identity,
		Secret:   Redacted,
		Source:   c.Source,
	})
}

// Provider resolves a named credential reference.
type Provider interface {
	Resolve(ctx context.Context, ref string) (*Credential, error)
}

// Kind selects a credential backend.
type Kind string

const (
	// KindEnv resolves references from process environment variables.
	KindEnv Kind = "env"
	// KindSecretsManager resolves references from AWS Secrets Manager.
	KindSecretsManager Kind = "aws-secrets-manager"
)

// Factory creates credential providers by kind.
type Factory struct {
	logger zerolog.Logger
}

// NewFactory creates a provider factory.
func NewFactory(logger zerolog.Logger) *Factory {
	return &Factory{logger: logger}
}

// Create builds the provider for the given kind. For KindSecretsManager the
// region selects the Secrets Manager endpoint; envPrefix applies to KindEnv.
func (f *Factory) Create(ctx context.Context, kind Kind, region, envPrefix string) (Provider, error) {
	switch kind {
	case KindEnv, "":
		return NewEnvProvider(envPrefix), nil
	case KindSecretsManager:
		return NewSecretsManagerProvider(ctx, region, f.logger)
	default:
		return nil, fmt.Errorf("unsupported credential provider: %s", kind)
	}
}
