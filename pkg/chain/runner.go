// Package chain executes declarative chains: it materialises the
// iteration domain from a connector, resolves prompts, interpolates
// inputs, and fans units out over a bounded worker pool.
package chain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/connector"
	"github.com/frontier-framework/fmf/pkg/document"
	"github.com/frontier-framework/fmf/pkg/env"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/ids"
	"github.com/frontier-framework/fmf/pkg/inference"
	"github.com/frontier-framework/fmf/pkg/jsonenforce"
	"github.com/frontier-framework/fmf/pkg/metrics"
	"github.com/frontier-framework/fmf/pkg/processing"
	"github.com/frontier-framework/fmf/pkg/processing/chunk"
	"github.com/frontier-framework/fmf/pkg/processing/table"
	"github.com/frontier-framework/fmf/pkg/prompts"
	"github.com/frontier-framework/fmf/pkg/provider"
	"github.com/frontier-framework/fmf/pkg/rag"
)

// PromptResolver resolves step prompt references. Satisfied by
// prompts.LocalYamlRegistry.
type PromptResolver interface {
	Register(ref string) (prompts.Version, error)
	Get(idVersion string) (prompts.Version, error)
}

// Runner wires one chain execution. Connectors may be pre-seeded (by
// name) to bypass the factory, which tests use.
type Runner struct {
	Engine     *config.Config
	Chain      *Config
	Invoker    *inference.Invoker
	Registry   PromptResolver
	Env        env.Provider
	Connectors map[string]connector.Connector

	pipelines map[string]*rag.Pipeline
}

// Record is one unit's result, kept in input order.
type Record struct {
	Index  int `json:"index"`
	Output any `json:"output"`
}

type StepResult struct {
	StepID     string                `json:"step_id"`
	OutputName string                `json:"output_name"`
	Records    []Record              `json:"records"`
	Telemetry  []inference.Telemetry `json:"telemetry"`
}

// Result is everything the artefact writer needs about a finished
// run.
type Result struct {
	RunID       string
	ChainName   string
	Mode        string
	Docs        []document.Document
	Chunks      []document.Chunk
	Rows        []document.TableRow
	Groups      []document.ImageGroup
	Steps       []StepResult
	PromptsUsed []prompts.Version
	Pipelines   map[string]*rag.Pipeline
	Provider    string
}

// unit is one element of the iteration domain with its ambient
// bindings.
type unit struct {
	index        int
	bindings     map[string]any
	images       []provider.Part
	defaultQuery string
}

// Run executes the chain's steps sequentially, units concurrently.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:     time.Now().UTC().Format("20060102T150405Z"),
		ChainName: r.Chain.Name,
		Mode:      r.Chain.Inputs.Mode,
		Pipelines: map[string]*rag.Pipeline{},
	}
	if r.Invoker != nil {
		result.Provider = r.Invoker.Client().Name()
	}
	r.pipelines = result.Pipelines

	units, err := r.buildUnits(ctx, result)
	if err != nil {
		return nil, err
	}
	metrics.Set("docs", int64(len(result.Docs)))
	metrics.Set("chunks", int64(len(result.Chunks)))
	slog.Info("chain materialised",
		"chain", r.Chain.Name,
		"mode", domainName(r.Chain.Inputs.Mode),
		"units", len(units),
		"docs", len(result.Docs))

	all := map[string]any{}
	for i := range r.Chain.Steps {
		step := &r.Chain.Steps[i]
		pv, err := r.resolvePrompt(step.Prompt)
		if err != nil {
			return nil, err
		}
		stepResult, err := r.runStep(ctx, step, pv, units, all)
		if err != nil {
			return nil, err
		}
		result.PromptsUsed = append(result.PromptsUsed, pv)
		result.Steps = append(result.Steps, *stepResult)

		outputs := make([]any, len(stepResult.Records))
		for j, rec := range stepResult.Records {
			outputs[j] = rec.Output
		}
		all[step.Output.Name] = outputs
	}
	return result, nil
}

func domainName(mode string) string {
	if mode == "" {
		return "chunk"
	}
	return mode
}

// buildUnits loads inputs and materialises the iteration domain.
func (r *Runner) buildUnits(ctx context.Context, result *Result) ([]unit, error) {
	if r.Chain.Inputs.Mode == "dataframe_rows" {
		return r.buildDataframeUnits(result)
	}

	conn, err := r.connector(ctx, r.Chain.Inputs.Connector)
	if err != nil {
		return nil, err
	}
	docs, err := r.loadDocuments(ctx, conn, r.Chain.Inputs.Select)
	if err != nil {
		return nil, err
	}
	result.Docs = docs

	switch r.Chain.Inputs.Mode {
	case "table_rows":
		return r.buildRowUnits(ctx, conn, result)
	case "images_group":
		groupSize := 0
		if r.Chain.Inputs.Images != nil {
			groupSize = r.Chain.Inputs.Images.GroupSize
		}
		result.Groups = processing.GroupImages(docs, groupSize)
		return r.buildGroupUnits(result.Groups), nil
	default:
		return r.buildChunkUnits(result)
	}
}

func (r *Runner) connector(ctx context.Context, name string) (connector.Connector, error) {
	if conn, ok := r.Connectors[name]; ok {
		return conn, nil
	}
	cfg, ok := r.Engine.ConnectorByName(name)
	if !ok {
		return nil, errdefs.Config("chain %q references unknown connector %q", r.Chain.Name, name)
	}
	conn, err := BuildConnector(ctx, cfg, r.Env)
	if err != nil {
		return nil, err
	}
	if r.Connectors == nil {
		r.Connectors = map[string]connector.Connector{}
	}
	r.Connectors[name] = conn
	return conn, nil
}

func (r *Runner) loadDocuments(ctx context.Context, conn connector.Connector, selector []string) ([]document.Document, error) {
	refs, err := conn.List(ctx, selector)
	if err != nil {
		return nil, err
	}

	docs := make([]document.Document, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Chain.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			rc, err := conn.Open(gctx, ref)
			if err != nil {
				return err
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return errdefs.WrapConnector(err, "reading %s", ref.URI)
			}
			doc, err := processing.Load(ref.URI, ref.Name, data, r.Engine.Processing)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *Runner) chunkOptions() chunk.Options {
	opts := chunk.Options{}
	if r.Engine.Processing != nil {
		opts.MaxTokens = r.Engine.Processing.Text.Chunking.MaxTokens
		opts.Overlap = r.Engine.Processing.Text.Chunking.Overlap
		opts.Splitter = r.Engine.Processing.Text.Chunking.Splitter
	}
	return opts
}

func (r *Runner) buildChunkUnits(result *Result) ([]unit, error) {
	opts := r.chunkOptions()
	var units []unit
	for _, doc := range result.Docs {
		if doc.Content == nil {
			continue
		}
		for _, c := range chunk.Split(doc.ID, doc.Text(), opts) {
			result.Chunks = append(result.Chunks, c)
			units = append(units, unit{
				index: len(units),
				bindings: map[string]any{
					"chunk": map[string]any{
						"id":              c.ID,
						"text":            c.Text,
						"doc_id":          c.DocID,
						"source_uri":      doc.SourceURI,
						"index":           c.Provenance.Index,
						"tokens_estimate": c.TokensEstimate,
					},
					"document": documentBindings(doc),
				},
				images:       blobParts(doc),
				defaultQuery: c.Text,
			})
		}
	}
	return units, nil
}

func (r *Runner) buildRowUnits(ctx context.Context, conn connector.Connector, result *Result) ([]unit, error) {
	tableOpts := table.Options{}
	if r.Chain.Inputs.Table != nil {
		tableOpts.TextColumn = r.Chain.Inputs.Table.TextColumn
		tableOpts.PassThrough = r.Chain.Inputs.Table.PassThrough
	}
	if r.Engine.Processing != nil && r.Engine.Processing.Tables.HeaderRow != nil {
		tableOpts.HeaderRow = *r.Engine.Processing.Tables.HeaderRow
	}

	refs, err := conn.List(ctx, r.Chain.Inputs.Select)
	if err != nil {
		return nil, err
	}
	var units []unit
	for i, ref := range refs {
		rc, err := conn.Open(ctx, ref)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errdefs.WrapConnector(err, "reading %s", ref.URI)
		}
		rows, err := table.Rows(result.Docs[i].ID, ref.URI, ref.Name, data, tableOpts)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			result.Rows = append(result.Rows, row)
			units = append(units, rowUnit(len(units), row))
		}
	}
	return units, nil
}

// buildDataframeUnits synthesises rows without a connector. The doc ID
// hashes the canonical row payload under a dataframe pseudo-URI, so
// identical rows keep identical provenance across runs.
func (r *Runner) buildDataframeUnits(result *Result) ([]unit, error) {
	sourceURI := "dataframe://" + r.Chain.Name
	var units []unit
	for i, columns := range r.Chain.Inputs.Rows {
		payload, err := json.Marshal(columns)
		if err != nil {
			return nil, errdefs.WrapProcessing(err, "serialising inline row %d", i)
		}
		docID := ids.DocumentID(ids.DocumentIDInput{
			SourceURI:     sourceURI,
			Payload:       payload,
			ContentType:   "application/json",
			ContentLength: len(payload),
			HasLength:     true,
		})
		row := document.TableRow{
			DocID:     docID,
			SourceURI: sourceURI,
			RowIndex:  i,
			Columns:   columns,
			Text:      rowText(columns),
		}
		result.Rows = append(result.Rows, row)
		units = append(units, rowUnit(len(units), row))
	}
	return units, nil
}

func rowText(columns map[string]any) string {
	if text, ok := columns["text"].(string); ok {
		return text
	}
	return ""
}

func rowUnit(index int, row document.TableRow) unit {
	bindings := map[string]any{}
	for k, v := range row.Columns {
		bindings[k] = v
	}
	if _, taken := bindings["text"]; !taken {
		bindings["text"] = row.Text
	}
	bindings["index"] = row.RowIndex
	return unit{
		index:        index,
		bindings:     map[string]any{"row": bindings},
		defaultQuery: row.Text,
	}
}

func (r *Runner) buildGroupUnits(groups []document.ImageGroup) []unit {
	units := make([]unit, 0, len(groups))
	for _, group := range groups {
		uris := make([]any, len(group.Docs))
		var images []provider.Part
		for i, doc := range group.Docs {
			uris[i] = doc.SourceURI
			images = append(images, blobParts(doc)...)
		}
		units = append(units, unit{
			index: len(units),
			bindings: map[string]any{
				"group": map[string]any{
					"index":       group.Index,
					"size":        len(group.Docs),
					"source_uris": uris,
				},
			},
			images:       images,
			defaultQuery: Stringify(uris),
		})
	}
	return units
}

func documentBindings(doc document.Document) map[string]any {
	out := map[string]any{
		"id":         doc.ID,
		"source_uri": doc.SourceURI,
	}
	for k, v := range doc.Metadata {
		out[k] = v
	}
	return out
}

func blobParts(doc document.Document) []provider.Part {
	var parts []provider.Part
	for _, blob := range doc.Blobs {
		if strings.HasPrefix(blob.MediaType, "image/") {
			parts = append(parts, provider.ImagePart(blob.MediaType, blob.Data))
		}
	}
	return parts
}

// runStep fans the units out over the worker pool. Results land in an
// indexed slice so output order always matches input order.
func (r *Runner) runStep(ctx context.Context, step *Step, pv prompts.Version, units []unit, all map[string]any) (*StepResult, error) {
	stepResult := &StepResult{
		StepID:     step.ID,
		OutputName: step.Output.Name,
		Records:    make([]Record, len(units)),
		Telemetry:  make([]inference.Telemetry, len(units)),
	}
	slog.Info("running step", "chain", r.Chain.Name, "step", step.ID, "units", len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Chain.Concurrency)
	for i := range units {
		u := &units[i]
		g.Go(func() error {
			output, telemetry, err := r.runUnit(gctx, step, pv, u, all)
			if err != nil {
				if errdefs.IsProvider(err) {
					return err
				}
				if !r.Chain.ContinueOnError {
					return err
				}
				metrics.Inc("unit_errors", 1)
				metrics.Inc("unit_errors."+step.ID, 1)
				slog.Warn("unit failed, continuing", "step", step.ID, "unit", u.index, "error", err)
				output = map[string]any{"unit_error": true, "error": err.Error()}
			}
			stepResult.Records[u.index] = Record{Index: u.index, Output: output}
			stepResult.Telemetry[u.index] = telemetry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stepResult, nil
}

func (r *Runner) runUnit(ctx context.Context, step *Step, pv prompts.Version, u *unit, all map[string]any) (any, inference.Telemetry, error) {
	bindings := map[string]any{"all": all}
	for k, v := range u.bindings {
		bindings[k] = v
	}

	inputs := map[string]any{}
	for name, expr := range step.Inputs {
		value, err := ResolveExpr(expr, bindings)
		if err != nil {
			return nil, inference.Telemetry{}, err
		}
		inputs[name] = Stringify(value)
	}

	body := prompts.RenderSimple(pv.Template, inputs)

	images := append([]provider.Part{}, u.images...)
	if step.RAG != nil {
		augmented, ragImages, err := r.augment(ctx, step, u, bindings, body)
		if err != nil {
			return nil, inference.Telemetry{}, err
		}
		body = augmented
		images = append(images, ragImages...)
	}

	var messages []provider.Message
	if step.Mode == "multimodal" && len(images) > 0 {
		parts := append([]provider.Part{provider.TextPart(body)}, images...)
		messages = []provider.Message{provider.UserParts(parts...)}
	} else {
		messages = []provider.Message{provider.UserText(body)}
	}

	opts := provider.Options{}
	if step.Params != nil {
		opts.Temperature = step.Params.Temperature
		opts.MaxTokens = step.Params.MaxTokens
	}
	var mode inference.Mode
	if step.Infer != nil {
		mode = inference.Mode(step.Infer.Mode)
	}

	completion, telemetry, err := r.Invoker.InvokeWithMode(ctx, mode, messages, opts, nil)
	if err != nil {
		return nil, telemetry, err
	}
	metrics.Inc("tokens_in", int64(completion.TokensIn))
	metrics.Inc("tokens_out", int64(completion.TokensOut))
	metrics.Inc("retries", int64(completion.Retries))
	if telemetry.Streaming {
		metrics.Inc("streamed_calls", 1)
	}
	if telemetry.TokensOut == 0 {
		telemetry.TokensOut = chunk.EstimateTokens(completion.Text)
	}

	if step.Output.ExpectsJSON() {
		return r.enforceJSON(step, completion.Text), telemetry, nil
	}
	return completion.Text, telemetry, nil
}

// enforceJSON coerces a completion to an object. parse_retries gates
// the repair pass; budget 0 allows the strict parse only.
func (r *Runner) enforceJSON(step *Step, text string) any {
	obj, ok := jsonenforce.ParseStrict(text)
	if !ok && step.Output.ParseBudget() > 0 {
		obj, ok = jsonenforce.ParseStrict(jsonenforce.Repair(text))
	}
	if !ok {
		metrics.Inc("json_parse_failures", 1)
		metrics.Inc("json_parse_failures."+step.ID, 1)
		return jsonenforce.Sentinel(text, nil)
	}
	if err := jsonenforce.Validate(obj, step.Output.Schema); err != nil {
		metrics.Inc("json_parse_failures", 1)
		metrics.Inc("json_parse_failures."+step.ID, 1)
		return jsonenforce.Sentinel(text, err)
	}
	return obj
}

// augment applies the step's RAG block: retrieve, bind variables, and
// optionally inject a context block into the body.
func (r *Runner) augment(ctx context.Context, step *Step, u *unit, bindings map[string]any, body string) (string, []provider.Part, error) {
	pipeline, err := r.pipeline(ctx, step.RAG.Pipeline)
	if err != nil {
		return "", nil, err
	}

	query := u.defaultQuery
	if step.RAG.Query != "" {
		resolved, err := ResolveExpr(step.RAG.Query, bindings)
		if err != nil {
			return "", nil, err
		}
		query = Stringify(resolved)
	}

	result := pipeline.Retrieve(query, step.RAG.TopKText, step.RAG.TopKImages)

	textVar := step.RAG.TextVar
	if textVar == "" {
		textVar = "rag_text"
	}
	imageVar := step.RAG.ImageVar
	if imageVar == "" {
		imageVar = "rag_images"
	}
	textBlock := rag.FormatTextBlock(result.Texts)
	bindings[textVar] = textBlock
	bindings[imageVar] = rag.ImageDataURLs(result.Images)

	inject := step.RAG.InjectPrompt == nil || *step.RAG.InjectPrompt
	if inject && textBlock != "" {
		body += "\n\nRetrieved context:\n" + textBlock
	}

	var images []provider.Part
	if step.Mode == "multimodal" {
		for _, item := range result.Images {
			images = append(images, provider.ImagePart(item.MediaType, item.Data))
		}
	} else if len(result.Images) > 0 {
		var refs []string
		for i, item := range result.Images {
			refs = append(refs, "["+strconv.Itoa(i+1)+"] "+item.SourceURI)
		}
		body += "\n\nRetrieved images:\n" + strings.Join(refs, "\n")
	}
	return body, images, nil
}

// pipeline builds a RAG pipeline lazily, once per run.
func (r *Runner) pipeline(ctx context.Context, name string) (*rag.Pipeline, error) {
	if p, ok := r.pipelines[name]; ok {
		return p, nil
	}
	cfg, ok := r.Engine.RAGPipelineByName(name)
	if !ok {
		return nil, errdefs.Config("chain %q references unknown rag pipeline %q", r.Chain.Name, name)
	}
	conn, err := r.connector(ctx, cfg.Connector)
	if err != nil {
		return nil, err
	}
	p, err := rag.Build(ctx, cfg, conn, r.Engine.Processing)
	if err != nil {
		return nil, err
	}
	r.pipelines[name] = p
	return p, nil
}

func (r *Runner) resolvePrompt(ref string) (prompts.Version, error) {
	if strings.HasPrefix(ref, prompts.InlinePrefix) {
		return prompts.Inline(strings.TrimSpace(strings.TrimPrefix(ref, prompts.InlinePrefix))), nil
	}
	if r.Registry == nil {
		return prompts.Version{}, errdefs.Config("prompt %q needs a registry but none is configured", ref)
	}
	path, _, _ := strings.Cut(ref, "#")
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") || strings.Contains(path, "/") {
		return r.Registry.Register(ref)
	}
	return r.Registry.Get(ref)
}
