// Package config loads and validates the engine configuration file
// (fmf.yaml). Precedence, lowest to highest: file contents, profile
// overlay, FMF_* environment overrides, --set overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// Options tunes a Load call. Env defaults to the process environment;
// Sets holds --set "key.path=value" overrides.
type Options struct {
	Env  map[string]string
	Sets []string
}

func Load(path string, opts Options) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "reading config %s", path)
	}
	return Parse(data, opts)
}

func Parse(data []byte, opts Options) (*Config, error) {
	raw := map[string]any{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errdefs.WrapConfig(err, "parsing config\n%s", yaml.FormatError(err, false, true))
		}
	}

	env := opts.Env
	if env == nil {
		env = environMap()
	}

	applyProfile(raw, env)
	applyEnvOverrides(raw, env)
	if err := applySetOverrides(raw, opts.Sets); err != nil {
		return nil, err
	}
	delete(raw, "profiles")

	merged, err := yaml.Marshal(raw)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "merging config overlays")
	}
	var cfg Config
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return nil, errdefs.WrapConfig(err, "parsing config\n%s", yaml.FormatError(err, false, true))
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	applyRuntimeToggles(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RunProfile == "" {
		cfg.RunProfile = "default"
	}
	if cfg.ArtefactsDir == "" {
		cfg.ArtefactsDir = "artefacts"
	}
}

func validate(cfg *Config) error {
	if cfg.Project == "" {
		return errdefs.Config("project is required")
	}

	seen := map[string]bool{}
	for _, conn := range cfg.Connectors {
		if conn.Name == "" {
			return errdefs.Config("connector without a name")
		}
		if seen[conn.Name] {
			return errdefs.Config("duplicate connector %q", conn.Name)
		}
		seen[conn.Name] = true
		switch conn.Type {
		case "local", "s3", "sharepoint":
		default:
			return errdefs.Config("connector %q: unsupported type %q", conn.Name, conn.Type)
		}
	}

	if inf := cfg.Inference; inf != nil {
		switch inf.Provider {
		case "azure_openai":
			if inf.AzureOpenAI == nil {
				return errdefs.Config("inference provider azure_openai requires an azure_openai block")
			}
		case "aws_bedrock":
			if inf.AWSBedrock == nil {
				return errdefs.Config("inference provider aws_bedrock requires an aws_bedrock block")
			}
		default:
			return errdefs.Config("unsupported inference provider %q", inf.Provider)
		}
	}

	if cfg.Export != nil {
		for _, sink := range cfg.Export.Sinks {
			switch sink.Type {
			case "file", "s3":
			default:
				return errdefs.Config("sink %q: unsupported type %q", sink.Name, sink.Type)
			}
		}
	}

	return nil
}

// applyRuntimeToggles mirrors config sections into the environment
// variables the leaf packages read, without clobbering explicit values.
func applyRuntimeToggles(cfg *Config) {
	if cfg.Processing != nil && cfg.Processing.HashAlgo != "" {
		setenvDefault("FMF_HASH_ALGO", cfg.Processing.HashAlgo)
	}
	if cfg.Retries != nil && cfg.Retries.MaxElapsedSeconds > 0 {
		setenvDefault("FMF_RETRY_MAX_ELAPSED", strconv.FormatFloat(cfg.Retries.MaxElapsedSeconds, 'f', -1, 64))
	}
	if cfg.Experimental != nil && cfg.Experimental.Streaming {
		setenvDefault("FMF_EXPERIMENTAL_STREAMING", "1")
	}
}

func setenvDefault(name, value string) {
	if os.Getenv(name) == "" {
		_ = os.Setenv(name, value)
	}
}

// applyProfile merges the active overlay from the profiles section.
// The active name comes from profiles.active, then FMF_PROFILE, then
// run_profile.
func applyProfile(raw map[string]any, env map[string]string) {
	profiles, ok := raw["profiles"].(map[string]any)
	if !ok {
		return
	}
	active, _ := profiles["active"].(string)
	if active == "" {
		active = env["FMF_PROFILE"]
	}
	if active == "" {
		active, _ = raw["run_profile"].(string)
	}
	if active == "" {
		return
	}
	if overlay, ok := profiles[active].(map[string]any); ok {
		deepMerge(raw, overlay)
	}
}

// applyEnvOverrides maps FMF_SECTION__KEY=value onto the raw tree.
// Double underscores separate path segments; digit segments index
// lists (FMF_CONNECTORS__0__NAME).
func applyEnvOverrides(raw map[string]any, env map[string]string) {
	for name, value := range env {
		rest, ok := strings.CutPrefix(name, "FMF_")
		if !ok || rest == "" {
			continue
		}
		path := strings.Split(strings.ToLower(rest), "__")
		setByPath(raw, path, parseScalar(value))
	}
}

func applySetOverrides(raw map[string]any, sets []string) error {
	for _, item := range sets {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return errdefs.Config("invalid --set override (missing '='): %q", item)
		}
		var path []string
		for _, seg := range strings.Split(strings.TrimSpace(key), ".") {
			if seg != "" {
				path = append(path, seg)
			}
		}
		if len(path) == 0 {
			return errdefs.Config("invalid --set override (empty key path): %q", item)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = parseScalar(value)
		}
		setByPath(raw, path, parsed)
	}
	return nil
}

func parseScalar(value string) any {
	v := strings.TrimSpace(value)
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return value
}

func setByPath(raw map[string]any, path []string, value any) {
	var cur any = raw
	for i, key := range path[:len(path)-1] {
		nextIsIndex := isDigits(path[i+1])
		cur = descend(cur, key, nextIsIndex)
		if cur == nil {
			return
		}
	}
	leaf := path[len(path)-1]
	switch c := cur.(type) {
	case map[string]any:
		c[leaf] = value
	case *[]any:
		idx, err := strconv.Atoi(leaf)
		if err != nil {
			return
		}
		for len(*c) <= idx {
			*c = append(*c, nil)
		}
		(*c)[idx] = value
	}
}

// descend walks one path segment, creating containers as needed. Lists
// are held behind pointers so appends are visible to the parent map.
func descend(cur any, key string, nextIsIndex bool) any {
	switch c := cur.(type) {
	case map[string]any:
		child, exists := c[key]
		if nextIsIndex {
			lp, ok := child.(*[]any)
			if !ok {
				var list []any
				if existing, isList := child.([]any); isList {
					list = existing
				}
				lp = &list
				c[key] = lp
			}
			return lp
		}
		m, ok := child.(map[string]any)
		if !ok || !exists {
			m = map[string]any{}
			c[key] = m
		}
		return m
	case *[]any:
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil
		}
		for len(*c) <= idx {
			*c = append(*c, nil)
		}
		if nextIsIndex {
			lp, ok := (*c)[idx].(*[]any)
			if !ok {
				var list []any
				lp = &list
				(*c)[idx] = lp
			}
			return lp
		}
		m, ok := (*c)[idx].(map[string]any)
		if !ok {
			m = map[string]any{}
			(*c)[idx] = m
		}
		return m
	default:
		return nil
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if sv, ok := value.(map[string]any); ok {
			if dv, ok := dst[key].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
		}
		dst[key] = value
	}
}

func environMap() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return env
}

// Dump renders the effective configuration back to YAML, for the run
// manifest.
func Dump(cfg *Config) (string, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(out), nil
}
