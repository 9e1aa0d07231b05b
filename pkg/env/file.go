package env

import (
	"os"
	"strings"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// NewFileProvider loads dotenv-style KEY=VALUE lines. Blank lines and
// #-comments are skipped; a leading "export " and surrounding quotes
// are stripped.
func NewFileProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "reading env file %s", path)
	}

	values := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}
	return NewStaticProvider(values), nil
}
