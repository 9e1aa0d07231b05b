package env

import "context"

// MappedProvider renames lookups before delegating: a request for the
// logical name resolves the mapped variable instead. Unmapped names
// pass through unchanged.
type MappedProvider struct {
	mapping map[string]string
	next    Provider
}

func NewMappedProvider(mapping map[string]string, next Provider) *MappedProvider {
	return &MappedProvider{mapping: mapping, next: next}
}

func (p *MappedProvider) GetEnv(ctx context.Context, name string) (string, error) {
	if mapped, ok := p.mapping[name]; ok {
		name = mapped
	}
	return p.next.GetEnv(ctx, name)
}
