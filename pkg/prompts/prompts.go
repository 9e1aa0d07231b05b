// Package prompts stores versioned prompt templates in a local YAML
// tree with an index file. Templates are content-addressed with a
// SHA-256 hash that the run manifest records.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// Version is one resolved prompt template.
type Version struct {
	ID          string
	Version     string
	Template    string
	ContentHash string
	Path        string
}

// InlinePrefix marks a chain step prompt given literally instead of by
// registry reference.
const InlinePrefix = "inline:"

// Inline builds a Version for an inline template. The hash is computed
// the same way as for registered prompts.
func Inline(template string) Version {
	return Version{
		ID:          "inline",
		Version:     "v0",
		Template:    template,
		ContentHash: Hash(template),
	}
}

// Hash returns the hex SHA-256 of a template.
func Hash(template string) string {
	sum := sha256.Sum256([]byte(template))
	return hex.EncodeToString(sum[:])
}

type promptFile struct {
	ID       string        `yaml:"id,omitempty"`
	Version  string        `yaml:"version,omitempty"`
	Template string        `yaml:"template,omitempty"`
	Versions []versionSpec `yaml:"versions,omitempty"`
}

type versionSpec struct {
	Version  string       `yaml:"version"`
	Template string       `yaml:"template"`
	Tests    []promptTest `yaml:"tests,omitempty"`
}

type promptTest struct {
	Inputs     map[string]any `yaml:"inputs,omitempty"`
	Assertions struct {
		Contains []string `yaml:"contains,omitempty"`
	} `yaml:"assertions,omitempty"`
}

type indexFile struct {
	Prompts []indexEntry `yaml:"prompts"`
}

type indexEntry struct {
	ID       string         `yaml:"id"`
	Path     string         `yaml:"path"`
	Versions []indexVersion `yaml:"versions"`
}

type indexVersion struct {
	Version     string `yaml:"version"`
	ContentHash string `yaml:"content_hash"`
}

// LocalYamlRegistry keeps prompt files under a root directory and an
// index YAML listing registered ids and version hashes.
type LocalYamlRegistry struct {
	root      string
	indexPath string
}

func NewLocalYamlRegistry(root, indexPath string) (*LocalYamlRegistry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "resolving prompt registry root")
	}
	if indexPath == "" {
		indexPath = "index.yaml"
	}
	if !filepath.IsAbs(indexPath) {
		indexPath = filepath.Join(abs, indexPath)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, errdefs.WrapConfig(err, "creating prompt registry dir")
	}
	return &LocalYamlRegistry{root: abs, indexPath: indexPath}, nil
}

// Register loads a prompt file given as "path" or "path#version",
// validates it, runs its inline tests, and upserts the index entry.
func (r *LocalYamlRegistry) Register(ref string) (Version, error) {
	path, wantVersion, _ := strings.Cut(ref, "#")
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Version{}, errdefs.WrapConfig(err, "prompt file not found: %s", path)
	}
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Version{}, errdefs.WrapConfig(err, "parsing prompt file %s", path)
	}

	id := file.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	var pv Version
	var tests []promptTest
	if len(file.Versions) == 0 {
		if file.Template == "" {
			return Version{}, errdefs.Config("prompt file %s must contain 'template' or 'versions'", path)
		}
		version := wantVersion
		if version == "" {
			version = file.Version
			if version == "" {
				version = "v0"
			}
		}
		pv = Version{ID: id, Version: version, Template: file.Template, ContentHash: Hash(file.Template), Path: path}
	} else {
		if wantVersion == "" {
			return Version{}, errdefs.Config("version must be provided for multi-version prompt (use %s#<version>)", ref)
		}
		found := false
		for _, spec := range file.Versions {
			if spec.Version == wantVersion {
				if spec.Template == "" {
					return Version{}, errdefs.Config("version %q missing template in %s", wantVersion, path)
				}
				pv = Version{ID: id, Version: wantVersion, Template: spec.Template, ContentHash: Hash(spec.Template), Path: path}
				tests = spec.Tests
				found = true
				break
			}
		}
		if !found {
			return Version{}, errdefs.Config("version %q not found in %s", wantVersion, path)
		}
	}

	if err := runTests(pv.Template, tests); err != nil {
		return Version{}, err
	}
	if err := r.upsertIndex(pv); err != nil {
		return Version{}, err
	}
	return pv, nil
}

// Get resolves an "id#version" reference through the index.
func (r *LocalYamlRegistry) Get(idVersion string) (Version, error) {
	id, version, ok := strings.Cut(idVersion, "#")
	if !ok {
		return Version{}, errdefs.Config("prompt reference %q must be id#version", idVersion)
	}

	index, err := r.loadIndex()
	if err != nil {
		return Version{}, err
	}
	for _, entry := range index.Prompts {
		if entry.ID != id {
			continue
		}
		path := entry.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.root, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Version{}, errdefs.WrapConfig(err, "reading prompt file %s", path)
		}
		var file promptFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Version{}, errdefs.WrapConfig(err, "parsing prompt file %s", path)
		}
		for _, spec := range file.Versions {
			if spec.Version == version {
				if spec.Template == "" {
					return Version{}, errdefs.Config("template missing for version %q in %s", version, path)
				}
				return Version{ID: id, Version: version, Template: spec.Template, ContentHash: Hash(spec.Template), Path: path}, nil
			}
		}
		if file.Version == version && file.Template != "" {
			return Version{ID: id, Version: version, Template: file.Template, ContentHash: Hash(file.Template), Path: path}, nil
		}
	}
	return Version{}, errdefs.Config("prompt %q not found", idVersion)
}

// runTests renders each declared test with trivial interpolation and
// checks the asserted substrings.
func runTests(template string, tests []promptTest) error {
	for _, test := range tests {
		rendered := RenderSimple(template, test.Inputs)
		for _, needle := range test.Assertions.Contains {
			if !strings.Contains(rendered, needle) {
				return errdefs.Config("prompt test failed: %q not in rendered output", needle)
			}
		}
	}
	return nil
}

// RenderSimple substitutes "{{ name }}" placeholders.
func RenderSimple(template string, inputs map[string]any) string {
	out := template
	for name, value := range inputs {
		out = strings.ReplaceAll(out, "{{ "+name+" }}", toString(value))
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(data), "\n")
}

func (r *LocalYamlRegistry) loadIndex() (indexFile, error) {
	var index indexFile
	data, err := os.ReadFile(r.indexPath)
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return index, errdefs.WrapConfig(err, "reading prompt index")
	}
	if err := yaml.Unmarshal(data, &index); err != nil {
		return index, errdefs.WrapConfig(err, "parsing prompt index")
	}
	return index, nil
}

func (r *LocalYamlRegistry) upsertIndex(pv Version) error {
	index, err := r.loadIndex()
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(r.root, pv.Path)
	if err != nil {
		rel = pv.Path
	}

	entryIdx := -1
	for i, entry := range index.Prompts {
		if entry.ID == pv.ID {
			entryIdx = i
			break
		}
	}
	if entryIdx < 0 {
		index.Prompts = append(index.Prompts, indexEntry{ID: pv.ID, Path: rel})
		entryIdx = len(index.Prompts) - 1
	}

	entry := &index.Prompts[entryIdx]
	updated := false
	for i := range entry.Versions {
		if entry.Versions[i].Version == pv.Version {
			entry.Versions[i].ContentHash = pv.ContentHash
			updated = true
			break
		}
	}
	if !updated {
		entry.Versions = append(entry.Versions, indexVersion{Version: pv.Version, ContentHash: pv.ContentHash})
	}

	out, err := yaml.Marshal(index)
	if err != nil {
		return errdefs.WrapConfig(err, "rendering prompt index")
	}
	if err := os.WriteFile(r.indexPath, out, 0o644); err != nil {
		return errdefs.WrapConfig(err, "writing prompt index")
	}
	return nil
}
