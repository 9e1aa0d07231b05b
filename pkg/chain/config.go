package chain

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/jsonenforce"
)

// DefaultConcurrency bounds the per-step worker pool when the chain
// does not set one.
const DefaultConcurrency = 4

// Config is a declarative chain loaded from YAML.
type Config struct {
	Name            string   `yaml:"name"`
	Inputs          Inputs   `yaml:"inputs"`
	Steps           []Step   `yaml:"steps"`
	Outputs         []Output `yaml:"outputs,omitempty"`
	Concurrency     int      `yaml:"concurrency,omitempty"`
	ContinueOnError bool     `yaml:"continue_on_error,omitempty"`
}

// Inputs selects the iteration domain for the chain.
type Inputs struct {
	Connector string           `yaml:"connector,omitempty"`
	Select    []string         `yaml:"select,omitempty"`
	Mode      string           `yaml:"mode,omitempty"`
	Table     *TableInputs     `yaml:"table,omitempty"`
	Images    *ImageInputs     `yaml:"images,omitempty"`
	Rows      []map[string]any `yaml:"rows,omitempty"`
}

type TableInputs struct {
	TextColumn  StringList `yaml:"text_column,omitempty"`
	PassThrough []string   `yaml:"pass_through,omitempty"`
}

type ImageInputs struct {
	GroupSize int `yaml:"group_size,omitempty"`
}

type Step struct {
	ID     string            `yaml:"id"`
	Prompt string            `yaml:"prompt"`
	Inputs map[string]string `yaml:"inputs,omitempty"`
	Output StepOutput        `yaml:"output"`
	Params *StepParams       `yaml:"params,omitempty"`
	Mode   string            `yaml:"mode,omitempty"`
	Infer  *InferBlock       `yaml:"infer,omitempty"`
	RAG    *RAGBlock         `yaml:"rag,omitempty"`
}

type StepParams struct {
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

type InferBlock struct {
	Mode string `yaml:"mode,omitempty"`
}

type RAGBlock struct {
	Pipeline     string `yaml:"pipeline"`
	Query        string `yaml:"query,omitempty"`
	TopKText     int    `yaml:"top_k_text,omitempty"`
	TopKImages   int    `yaml:"top_k_images,omitempty"`
	TextVar      string `yaml:"text_var,omitempty"`
	ImageVar     string `yaml:"image_var,omitempty"`
	InjectPrompt *bool  `yaml:"inject_prompt,omitempty"`
}

// StepOutput accepts a bare name or a full object with JSON
// expectations.
type StepOutput struct {
	Name         string              `yaml:"name"`
	Expects      string              `yaml:"expects,omitempty"`
	Schema       *jsonenforce.Schema `yaml:"schema,omitempty"`
	ParseRetries *int                `yaml:"parse_retries,omitempty"`
}

func (o *StepOutput) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		*o = StepOutput{Name: name}
		return nil
	}
	type plain StepOutput
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*o = StepOutput(p)
	return nil
}

// Output declares where a step's records go: a path save, an export
// sink, or both.
type Output struct {
	Save   string `yaml:"save,omitempty"`
	Export string `yaml:"export,omitempty"`
	From   string `yaml:"from"`
	As     string `yaml:"as,omitempty"`
}

// StringList accepts a scalar or a sequence of strings.
type StringList []string

func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*s = StringList(list)
	return nil
}

// LoadConfig reads and validates a chain file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.WrapConfig(err, "reading chain file %s", path)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errdefs.WrapConfig(err, "parsing chain file")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errdefs.Config("chain requires a name")
	}
	if len(c.Steps) == 0 {
		return errdefs.Config("chain %q has no steps", c.Name)
	}
	switch c.Inputs.Mode {
	case "", "chunk", "table_rows", "images_group", "dataframe_rows":
	default:
		return errdefs.Config("chain %q: unknown input mode %q", c.Name, c.Inputs.Mode)
	}
	if c.Inputs.Mode == "dataframe_rows" {
		if len(c.Inputs.Rows) == 0 {
			return errdefs.Config("chain %q: dataframe_rows mode requires inline rows", c.Name)
		}
	} else if c.Inputs.Connector == "" {
		return errdefs.Config("chain %q: inputs.connector is required", c.Name)
	}

	seen := map[string]bool{}
	for i := range c.Steps {
		step := &c.Steps[i]
		if step.ID == "" {
			return errdefs.Config("chain %q: step %d has no id", c.Name, i)
		}
		if step.Prompt == "" {
			return errdefs.Config("chain %q: step %q has no prompt", c.Name, step.ID)
		}
		if step.Output.Name == "" {
			step.Output.Name = step.ID
		}
		if seen[step.Output.Name] {
			return errdefs.Config("chain %q: duplicate output name %q", c.Name, step.Output.Name)
		}
		seen[step.Output.Name] = true
		if step.Infer != nil {
			switch step.Infer.Mode {
			case "", "regular", "stream", "auto":
			default:
				return errdefs.Config("chain %q: step %q has invalid infer mode %q", c.Name, step.ID, step.Infer.Mode)
			}
		}
	}
	for _, out := range c.Outputs {
		if out.From == "" {
			return errdefs.Config("chain %q: output entry missing 'from'", c.Name)
		}
		if !seen[out.From] {
			return errdefs.Config("chain %q: output references unknown step output %q", c.Name, out.From)
		}
		if out.Save == "" && out.Export == "" {
			return errdefs.Config("chain %q: output entry needs 'save' or 'export'", c.Name)
		}
		switch out.As {
		case "", "jsonl", "csv", "parquet":
		default:
			return errdefs.Config("chain %q: unsupported output format %q", c.Name, out.As)
		}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return nil
}

// ParseBudget returns the step's JSON repair budget, defaulting to 1.
func (o StepOutput) ParseBudget() int {
	if o.ParseRetries != nil {
		return *o.ParseRetries
	}
	return 1
}

// ExpectsJSON reports whether the step output runs JSON enforcement.
func (o StepOutput) ExpectsJSON() bool { return o.Expects == "json" }
