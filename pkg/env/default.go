package env

import (
	"context"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

func NewDefaultProvider() Provider {
	return NewMultiProvider(
		NewEnvVariableProvider(),
	)
}

// Require resolves a variable and fails with an auth error when it is
// empty. Connectors and providers use it for mandatory credentials.
func Require(ctx context.Context, provider Provider, name string) (string, error) {
	value, err := provider.GetEnv(ctx, name)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", errdefs.Auth("required environment variable %s is not set", name)
	}
	return value, nil
}
