package env

import "context"

// StaticProvider serves values from an in-memory map. Used for inline
// secrets in configuration and for tests.
type StaticProvider struct {
	values map[string]string
}

func NewStaticProvider(values map[string]string) *StaticProvider {
	return &StaticProvider{values: values}
}

func (p *StaticProvider) GetEnv(ctx context.Context, name string) (string, error) {
	return p.values[name], nil
}
