// Package artefacts persists a finished run: the normalised inputs,
// every step's records, RAG traces, declared exports, and a run.yaml
// manifest, all under one run directory. It also maintains the global
// run index and applies the retention policy.
package artefacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/frontier-framework/fmf/pkg/chain"
	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/inference"
	"github.com/frontier-framework/fmf/pkg/metrics"
)

// DefaultDir is the artefacts root when the config does not set one.
const DefaultDir = "artefacts"

type Writer struct {
	Dir        string
	Profile    string
	RetainLast int
}

// New builds a writer from the engine config. FMF_ARTEFACTS__RETAIN_LAST
// overrides the retention count.
func New(cfg *config.Config) *Writer {
	dir := cfg.ArtefactsDir
	if dir == "" {
		dir = DefaultDir
	}
	w := &Writer{Dir: dir, Profile: cfg.RunProfile}
	if raw := os.Getenv("FMF_ARTEFACTS__RETAIN_LAST"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			w.RetainLast = n
		} else {
			slog.Warn("ignoring invalid FMF_ARTEFACTS__RETAIN_LAST", "value", raw)
		}
	}
	return w
}

// Manifest is the run.yaml document.
type Manifest struct {
	RunID       string           `yaml:"run_id"`
	Profile     string           `yaml:"profile,omitempty"`
	Chain       string           `yaml:"chain"`
	Provider    ManifestProvider `yaml:"provider"`
	Inputs      ManifestInputs   `yaml:"inputs"`
	PromptsUsed []ManifestPrompt `yaml:"prompts_used,omitempty"`
	Metrics     map[string]any   `yaml:"metrics"`
	Steps       []ManifestStep   `yaml:"steps"`
	Artefacts   []string         `yaml:"artefacts"`
}

type ManifestProvider struct {
	Name string `yaml:"name"`
}

type ManifestInputs struct {
	Mode      string `yaml:"mode,omitempty"`
	Connector string `yaml:"connector,omitempty"`
	Docs      int    `yaml:"docs"`
	Chunks    int    `yaml:"chunks,omitempty"`
	Rows      int    `yaml:"rows,omitempty"`
	Groups    int    `yaml:"groups,omitempty"`
}

type ManifestPrompt struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	ContentHash string `yaml:"content_hash"`
}

type ManifestStep struct {
	StepID     string                `yaml:"step_id"`
	OutputName string                `yaml:"output_name"`
	Records    int                   `yaml:"records"`
	Telemetry  []inference.Telemetry `yaml:"telemetry,omitempty"`
}

// outputLine is one outputs.jsonl entry for the final step.
type outputLine struct {
	RunID    string `json:"run_id"`
	StepID   string `json:"step_id"`
	RecordID string `json:"record_id"`
	Output   any    `json:"output"`
}

// Write persists the run and returns the manifest. The returned
// manifest's Artefacts list holds absolute paths of everything written.
func (w *Writer) Write(chainCfg *chain.Config, result *chain.Result) (*Manifest, error) {
	runDir := filepath.Join(w.Dir, result.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errdefs.WrapExport(err, "creating run directory %s", runDir)
	}

	manifest := &Manifest{
		RunID:   result.RunID,
		Profile: w.Profile,
		Chain:   result.ChainName,
		Provider: ManifestProvider{
			Name: result.Provider,
		},
		Inputs: ManifestInputs{
			Mode:      result.Mode,
			Connector: chainCfg.Inputs.Connector,
			Docs:      len(result.Docs),
			Chunks:    len(result.Chunks),
			Rows:      len(result.Rows),
			Groups:    len(result.Groups),
		},
	}
	for _, pv := range result.PromptsUsed {
		manifest.PromptsUsed = append(manifest.PromptsUsed, ManifestPrompt{
			ID:          pv.ID,
			Version:     pv.Version,
			ContentHash: pv.ContentHash,
		})
	}
	for _, step := range result.Steps {
		manifest.Steps = append(manifest.Steps, ManifestStep{
			StepID:     step.StepID,
			OutputName: step.OutputName,
			Records:    len(step.Records),
			Telemetry:  step.Telemetry,
		})
	}

	track := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		manifest.Artefacts = append(manifest.Artefacts, abs)
	}

	docsPath := filepath.Join(runDir, "docs.jsonl")
	if err := writeJSONL(docsPath, len(result.Docs), func(i int) any { return result.Docs[i] }); err != nil {
		return nil, err
	}
	track(docsPath)

	chunksPath := filepath.Join(runDir, "chunks.jsonl")
	if err := writeJSONL(chunksPath, len(result.Chunks), func(i int) any { return result.Chunks[i] }); err != nil {
		return nil, err
	}
	track(chunksPath)

	if len(result.Rows) > 0 {
		rowsPath := filepath.Join(runDir, "rows.jsonl")
		if err := writeJSONL(rowsPath, len(result.Rows), func(i int) any { return result.Rows[i] }); err != nil {
			return nil, err
		}
		track(rowsPath)
	}

	if len(result.Steps) > 0 {
		final := result.Steps[len(result.Steps)-1]
		outputsPath := filepath.Join(runDir, "outputs.jsonl")
		err := writeJSONL(outputsPath, len(final.Records), func(i int) any {
			rec := final.Records[i]
			return outputLine{
				RunID:    result.RunID,
				StepID:   final.StepID,
				RecordID: fmt.Sprintf("%s_%05d", final.StepID, rec.Index),
				Output:   rec.Output,
			}
		})
		if err != nil {
			return nil, err
		}
		track(outputsPath)
	}

	for _, out := range chainCfg.Outputs {
		if out.Save == "" {
			continue
		}
		path, err := w.saveOutput(runDir, result, out)
		if err != nil {
			return nil, err
		}
		track(path)
	}

	for name, pipeline := range result.Pipelines {
		history := pipeline.History()
		if len(history) == 0 {
			continue
		}
		ragDir := filepath.Join(runDir, "rag")
		if err := os.MkdirAll(ragDir, 0o755); err != nil {
			return nil, errdefs.WrapExport(err, "creating rag trace directory")
		}
		tracePath := filepath.Join(ragDir, name+".jsonl")
		if err := writeJSONL(tracePath, len(history), func(i int) any { return history[i] }); err != nil {
			return nil, err
		}
		track(tracePath)
	}

	manifest.Metrics = metricsWithCost(metrics.Snapshot())

	manifestPath := filepath.Join(runDir, "run.yaml")
	track(manifestPath)
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, errdefs.WrapExport(err, "marshalling run manifest")
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, errdefs.WrapExport(err, "writing run manifest")
	}

	if err := w.updateIndex(result, runDir); err != nil {
		return nil, err
	}
	if err := w.applyRetention(); err != nil {
		return nil, err
	}

	slog.Info("run persisted", "run_id", result.RunID, "dir", runDir, "artefacts", len(manifest.Artefacts))
	return manifest, nil
}

// StepRecords finds the records saved under an output name.
func StepRecords(result *chain.Result, outputName string) ([]chain.Record, bool) {
	for _, step := range result.Steps {
		if step.OutputName == outputName {
			return step.Records, true
		}
	}
	return nil, false
}

func (w *Writer) saveOutput(runDir string, result *chain.Result, out chain.Output) (string, error) {
	records, ok := StepRecords(result, out.From)
	if !ok {
		return "", errdefs.Config("output references unknown step output %q", out.From)
	}
	data, err := EncodeRecords(out.As, records)
	if err != nil {
		return "", err
	}

	path := strings.ReplaceAll(out.Save, "${run_id}", result.RunID)
	if !filepath.IsAbs(path) {
		path = filepath.Join(runDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errdefs.WrapExport(err, "creating output directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errdefs.WrapExport(err, "saving output %s", path)
	}
	return path, nil
}

func writeJSONL(path string, n int, item func(int) any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < n; i++ {
		if err := enc.Encode(item(i)); err != nil {
			return errdefs.WrapExport(err, "encoding %s line %d", filepath.Base(path), i)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errdefs.WrapExport(err, "writing %s", path)
	}
	return nil
}

// metricsWithCost folds the counter snapshot into the manifest metrics
// and adds a cost estimate when per-1k rates are configured.
func metricsWithCost(counters map[string]int64) map[string]any {
	out := make(map[string]any, len(counters)+1)
	for name, value := range counters {
		out[name] = value
	}
	promptRate := envFloat("FMF_COST_PROMPT_PER_1K")
	completionRate := envFloat("FMF_COST_COMPLETION_PER_1K")
	if promptRate > 0 || completionRate > 0 {
		cost := float64(counters["tokens_in"])/1000*promptRate +
			float64(counters["tokens_out"])/1000*completionRate
		out["cost_estimate_usd"] = cost
	}
	return out
}

func envFloat(name string) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
