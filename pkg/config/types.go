package config

// Config is the engine configuration loaded from fmf.yaml.
type Config struct {
	Project      string `yaml:"project"`
	RunProfile   string `yaml:"run_profile,omitempty"`
	ArtefactsDir string `yaml:"artefacts_dir,omitempty"`

	Auth           *Auth           `yaml:"auth,omitempty"`
	Connectors     []Connector     `yaml:"connectors,omitempty"`
	Processing     *Processing     `yaml:"processing,omitempty"`
	Inference      *Inference      `yaml:"inference,omitempty"`
	Export         *Export         `yaml:"export,omitempty"`
	PromptRegistry *PromptRegistry `yaml:"prompt_registry,omitempty"`
	RAG            *RAG            `yaml:"rag,omitempty"`
	Experimental   *Experimental   `yaml:"experimental,omitempty"`
	Retries        *Retries        `yaml:"retries,omitempty"`
}

type Auth struct {
	Provider string            `yaml:"provider"`
	EnvFile  string            `yaml:"env_file,omitempty"`
	Mapping  map[string]string `yaml:"secret_mapping,omitempty"`
}

// Connector carries the union of all connector options; Type selects
// which subset applies.
type Connector struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// local
	Root    string   `yaml:"root,omitempty"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// s3
	Bucket      string `yaml:"bucket,omitempty"`
	Prefix      string `yaml:"prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	KMSRequired bool   `yaml:"kms_required,omitempty"`

	// sharepoint
	SiteURL  string `yaml:"site_url,omitempty"`
	Drive    string `yaml:"drive,omitempty"`
	RootPath string `yaml:"root_path,omitempty"`
}

type Processing struct {
	Text     ProcessingText   `yaml:"text,omitempty"`
	Tables   ProcessingTables `yaml:"tables,omitempty"`
	Images   ProcessingImages `yaml:"images,omitempty"`
	HashAlgo string           `yaml:"hash_algo,omitempty"`
}

type ProcessingText struct {
	NormalizeWhitespace *bool    `yaml:"normalize_whitespace,omitempty"`
	PreserveMarkdown    *bool    `yaml:"preserve_markdown,omitempty"`
	Chunking            Chunking `yaml:"chunking,omitempty"`
}

type Chunking struct {
	Strategy  string `yaml:"strategy,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
	Overlap   int    `yaml:"overlap,omitempty"`
	Splitter  string `yaml:"splitter,omitempty"`
}

type ProcessingTables struct {
	Formats    []string `yaml:"formats,omitempty"`
	ToMarkdown *bool    `yaml:"to_markdown,omitempty"`
	HeaderRow  *int     `yaml:"header_row,omitempty"`
}

type ProcessingImages struct {
	OCR OCR `yaml:"ocr,omitempty"`
}

type OCR struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Lang    string `yaml:"lang,omitempty"`
}

type Inference struct {
	Provider    string       `yaml:"provider"`
	AzureOpenAI *AzureOpenAI `yaml:"azure_openai,omitempty"`
	AWSBedrock  *AWSBedrock  `yaml:"aws_bedrock,omitempty"`
	RPS         float64      `yaml:"rps,omitempty"`
}

type AzureOpenAI struct {
	Endpoint    string   `yaml:"endpoint"`
	APIVersion  string   `yaml:"api_version"`
	Deployment  string   `yaml:"deployment"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

type AWSBedrock struct {
	Region      string   `yaml:"region"`
	ModelID     string   `yaml:"model_id"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

type Export struct {
	DefaultSink string `yaml:"default_sink,omitempty"`
	Sinks       []Sink `yaml:"sinks,omitempty"`
}

// Sink carries the union of sink options; Type selects file or s3.
type Sink struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Path   string `yaml:"path,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
	Format string `yaml:"format,omitempty"`
	Mode   string `yaml:"mode,omitempty"`
}

type PromptRegistry struct {
	Backend   string `yaml:"backend,omitempty"`
	Path      string `yaml:"path,omitempty"`
	IndexFile string `yaml:"index_file,omitempty"`
}

type RAG struct {
	Pipelines []RAGPipeline `yaml:"pipelines,omitempty"`
}

type RAGPipeline struct {
	Name             string   `yaml:"name"`
	Connector        string   `yaml:"connector"`
	Select           []string `yaml:"select,omitempty"`
	Modalities       []string `yaml:"modalities,omitempty"`
	MaxTextItems     int      `yaml:"max_text_items,omitempty"`
	MaxImageItems    int      `yaml:"max_image_items,omitempty"`
	BuildConcurrency int      `yaml:"build_concurrency,omitempty"`
}

type Experimental struct {
	Streaming bool `yaml:"streaming,omitempty"`
}

type Retries struct {
	MaxElapsedSeconds float64 `yaml:"max_elapsed_s,omitempty"`
}

// ConnectorByName finds a configured connector.
func (c *Config) ConnectorByName(name string) (Connector, bool) {
	for _, conn := range c.Connectors {
		if conn.Name == name {
			return conn, true
		}
	}
	return Connector{}, false
}

// SinkByName finds a configured export sink.
func (c *Config) SinkByName(name string) (Sink, bool) {
	if c.Export == nil {
		return Sink{}, false
	}
	for _, sink := range c.Export.Sinks {
		if sink.Name == name {
			return sink, true
		}
	}
	return Sink{}, false
}

// RAGPipelineByName finds a configured retrieval pipeline.
func (c *Config) RAGPipelineByName(name string) (RAGPipeline, bool) {
	if c.RAG == nil {
		return RAGPipeline{}, false
	}
	for _, p := range c.RAG.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return RAGPipeline{}, false
}
