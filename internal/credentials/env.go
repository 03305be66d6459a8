package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix is the variable prefix used when none is configured.
const DefaultEnvPrefix = "DEPLOY_CRED"

// EnvProvider resolves credentials from process environment variables. A
// reference "dockerhub-prod" maps to DEPLOY_CRED_DOCKERHUB_PROD_IDENTITY and
// DEPLOY_CRED_DOCKERHUB_PROD_SECRET.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-backed provider with the given
// variable prefix. An empty prefix selects DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

// Resolve looks up the identity/secret pair for the reference. The secret
// variable is required; the identity variable is optional because some
// registries take the identity from the request instead.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (*Credential, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty credential reference: %w", ErrNotFound)
	}

	key := p.envKey(ref)
	secret, ok := os.LookupEnv(key + "_SECRET")
	if !ok || secret == "" {
		return nil, fmt.Errorf("credential %q: %s_SECRET is not set: %w", ref, key, ErrNotFound)
	}

	return &Credential{
		Identity: os.Getenv(key + "_IDENTITY"),
		Secret:   secret,
		Source:   string(KindEnv),
	}, nil
}

func (p *EnvProvider) envKey(ref string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		default:
			return '_'
		}
	}, ref)
	return p.prefix + "_" + mapped
}
