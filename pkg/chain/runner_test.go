package chain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/connector/local"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/inference"
	"github.com/frontier-framework/fmf/pkg/metrics"
	"github.com/frontier-framework/fmf/pkg/provider/fake"
)

func localConnector(t *testing.T, files map[string]string) connector.Connector {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	conn, err := local.New(local.Config{Name: "docs", Root: root})
	require.NoError(t, err)
	return conn
}

func newRunner(t *testing.T, chainYAML string, client *fake.Client, files map[string]string) *Runner {
	t.Helper()
	cfg, err := ParseConfig([]byte(chainYAML))
	require.NoError(t, err)
	return &Runner{
		Engine:     &config.Config{Project: "test"},
		Chain:      cfg,
		Invoker:    inference.New(client, 0, inference.ModeRegular),
		Connectors: map[string]connector.Connector{"docs": localConnector(t, files)},
	}
}

func TestRunCSVRowsWithJSONEnforcement(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Text: `{"id":"1","analysed":"ok"}`}}}
	r := newRunner(t, `
name: reviews
inputs:
  connector: docs
  select: ["**/*.csv"]
  mode: table_rows
  table: { text_column: Comment, pass_through: [ID, Comment] }
steps:
  - id: analyse
    prompt: "inline: Analyse row {{ id }}: {{ comment }}"
    inputs:
      id: "${row.ID}"
      comment: "${row.Comment}"
    output:
      name: analysed
      expects: json
      schema: { type: object, required: [id, analysed] }
concurrency: 1
`, client, map[string]string{"in.csv": "ID,Comment\n1,Great product!\n"})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	require.Len(t, result.Steps, 1)
	require.Len(t, result.Steps[0].Records, 1)
	output, ok := result.Steps[0].Records[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", output["id"])
	assert.Equal(t, "ok", output["analysed"])
	assert.Zero(t, metrics.Get("json_parse_failures"))

	// The rendered prompt carried the row values.
	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Parts[0].Text, "Analyse row 1: Great product!")
}

func TestRunRepairsFencedJSON(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Text: "```json\n{\"b\":2}\n```"}}}
	r := newRunner(t, `
name: repair
inputs:
  connector: docs
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: { name: out, expects: json, parse_retries: 1 }
concurrency: 1
`, client, map[string]string{"a.txt": "hello"})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	output, ok := result.Steps[0].Records[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), output["b"])
	assert.Zero(t, metrics.Get("json_parse_failures"))
}

func TestRunUnrepairableJSONEmitsSentinel(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Text: "not json at all"}}}
	r := newRunner(t, `
name: sentinel
inputs:
  connector: docs
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: { name: out, expects: json, parse_retries: 1 }
concurrency: 1
`, client, map[string]string{"a.txt": "hello"})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	output, ok := result.Steps[0].Records[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["parse_error"])
	assert.Equal(t, "not json at all", output["raw_text"])
	assert.Equal(t, int64(1), metrics.Get("json_parse_failures"))
	assert.Equal(t, int64(1), metrics.Get("json_parse_failures.s1"))
}

func TestRunTwoStepAggregationWithJoin(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{
		{Text: "One."},
		{Text: "Two."},
		{Text: "aggregated"},
	}}
	r := newRunner(t, `
name: aggregate
inputs:
  connector: docs
  select: ["**/*.md"]
steps:
  - id: s1
    prompt: "inline: Echo {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: s1
  - id: s2
    prompt: "inline: Aggregate join fn: {{ joined }}"
    inputs: { joined: "${join(all.s1, \"|\")}" }
    output: s2
concurrency: 1
`, client, map[string]string{"a.md": "One.", "b.md": "Two."})

	result, err := r.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "aggregated", result.Steps[1].Records[0].Output)

	calls := client.Calls()
	require.Len(t, calls, 3)
	prompt := calls[2].Messages[0].Parts[0].Text
	assert.Contains(t, prompt, "Aggregate join fn:")
	assert.Contains(t, prompt, "One.|Two.")

	// Every unit of s2 exists; aggregation ran once per unit.
	assert.Len(t, result.Steps[1].Records, 2)
}

func TestRunMultimodalWithRAGImage(t *testing.T) {
	metrics.Reset()

	ragRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ragRoot, "pic.png"), []byte{0x89, 0x50, 0x4e, 0x47}, 0o644))
	ragConn, err := local.New(local.Config{Name: "ragdocs", Root: ragRoot})
	require.NoError(t, err)

	client := &fake.Client{Responses: []fake.Response{{Text: "described"}}}
	r := newRunner(t, `
name: visual
inputs:
  connector: docs
steps:
  - id: describe
    prompt: "inline: Describe with context: {{ text }}"
    inputs: { text: "${chunk.text}" }
    mode: multimodal
    rag:
      pipeline: images
      query: "pic"
      top_k_images: 1
    output: described
concurrency: 1
`, client, map[string]string{"a.txt": "primary text"})
	r.Engine.RAG = &config.RAG{Pipelines: []config.RAGPipeline{{
		Name:       "images",
		Connector:  "ragdocs",
		Modalities: []string{"image"},
	}}}
	r.Connectors["ragdocs"] = ragConn

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 1)
	parts := calls[0].Messages[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image", parts[1].Type)
	assert.Equal(t, "image/png", parts[1].MediaType)

	pipeline := result.Pipelines["images"]
	require.NotNil(t, pipeline)
	history := pipeline.History()
	require.Len(t, history, 1)
	assert.Equal(t, "pic", history[0]["query"])
}

func TestRunStreamingAutoFallback(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{
		StreamSupported: true,
		Responses: []fake.Response{
			{StreamErr: errdefs.InferenceWithStatus(503, "unavailable")},
			{Text: "recovered"},
		},
	}
	r := newRunner(t, `
name: fallback
inputs:
  connector: docs
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    infer: { mode: auto }
    output: out
concurrency: 1
`, client, map[string]string{"a.txt": "hello"})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, result.Steps[0].Records, 1)
	assert.Equal(t, "recovered", result.Steps[0].Records[0].Output)
	telemetry := result.Steps[0].Telemetry[0]
	assert.False(t, telemetry.Streaming)
	assert.True(t, strings.HasPrefix(telemetry.FallbackReason, "stream_error:"))
}

func TestRunDataframeRows(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Text: "r1"}, {Text: "r2"}}}
	cfg, err := ParseConfig([]byte(`
name: inline-rows
inputs:
  mode: dataframe_rows
  rows:
    - { name: alpha, text: "first row" }
    - { name: beta, text: "second row" }
steps:
  - id: s1
    prompt: "inline: Process {{ name }}: {{ text }}"
    inputs:
      name: "${row.name}"
      text: "${row.text}"
    output: out
concurrency: 1
`))
	require.NoError(t, err)
	r := &Runner{
		Engine:  &config.Config{Project: "test"},
		Chain:   cfg,
		Invoker: inference.New(client, 0, inference.ModeRegular),
	}

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "dataframe://inline-rows", result.Rows[0].SourceURI)
	assert.NotEmpty(t, result.Rows[0].DocID)
	// Identical payloads hash identically; distinct rows differ.
	assert.NotEqual(t, result.Rows[0].DocID, result.Rows[1].DocID)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Messages[0].Parts[0].Text, "Process alpha: first row")
}

func TestRunContinueOnErrorEmitsUnitSentinel(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{
		{Err: errdefs.InferenceWithStatus(400, "bad request")},
		{Text: "fine"},
	}}
	r := newRunner(t, `
name: lenient
inputs:
  connector: docs
  select: ["**/*.md"]
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: out
concurrency: 1
continue_on_error: true
`, client, map[string]string{"a.md": "One.", "b.md": "Two."})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	records := result.Steps[0].Records
	require.Len(t, records, 2)
	sentinel, ok := records[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, sentinel["unit_error"])
	assert.Contains(t, sentinel["error"], "bad request")
	assert.Equal(t, "fine", records[1].Output)
	assert.Equal(t, int64(1), metrics.Get("unit_errors.s1"))
}

func TestRunFailFastWithoutContinueOnError(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Err: errdefs.InferenceWithStatus(400, "bad request")}}}
	r := newRunner(t, `
name: strict
inputs:
  connector: docs
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: out
concurrency: 1
`, client, map[string]string{"a.txt": "hello"})

	_, err := r.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errdefs.IsInference(err))
}

func TestRunProviderErrorIsFatalDespiteContinueOnError(t *testing.T) {
	metrics.Reset()

	// Streaming explicitly requested on a provider without it.
	client := &fake.Client{StreamSupported: false}
	r := newRunner(t, `
name: capability
inputs:
  connector: docs
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    infer: { mode: stream }
    output: out
concurrency: 1
continue_on_error: true
`, client, map[string]string{"a.txt": "hello"})

	_, err := r.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errdefs.IsProvider(err))
}

func TestRunEmptySelector(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{}
	r := newRunner(t, `
name: empty
inputs:
  connector: docs
  select: ["**/*.nope"]
steps:
  - id: s1
    prompt: "inline: {{ text }}"
    inputs: { text: "${chunk.text}" }
    output: out
`, client, map[string]string{"a.txt": "hello"})

	result, err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Empty(t, result.Steps[0].Records)
	assert.Empty(t, client.Calls())
	assert.NotEmpty(t, result.RunID)
}

func TestRunImageGroups(t *testing.T) {
	metrics.Reset()

	client := &fake.Client{Responses: []fake.Response{{Text: "group described"}}}
	r := newRunner(t, `
name: groups
inputs:
  connector: docs
  select: ["**/*.png"]
  mode: images_group
  images: { group_size: 4 }
steps:
  - id: s1
    prompt: "inline: Describe {{ size }} images"
    inputs: { size: "${group.size}" }
    mode: multimodal
    output: out
concurrency: 1
`, client, map[string]string{
		"one.png": "\x89PNG1",
		"two.png": "\x89PNG2",
	})

	result, err := r.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	require.Len(t, result.Steps[0].Records, 1)

	calls := client.Calls()
	require.Len(t, calls, 1)
	parts := calls[0].Messages[0].Parts
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0].Text, "Describe 2 images")
	assert.Equal(t, "image", parts[1].Type)
	assert.Equal(t, "image", parts[2].Type)
}
