package root

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/frontier-framework/fmf/pkg/artefacts"
	"github.com/frontier-framework/fmf/pkg/chain"
	"github.com/frontier-framework/fmf/pkg/config"
	"github.com/frontier-framework/fmf/pkg/env"
	"github.com/frontier-framework/fmf/pkg/errdefs"
	"github.com/frontier-framework/fmf/pkg/exporter"
	"github.com/frontier-framework/fmf/pkg/inference"
	"github.com/frontier-framework/fmf/pkg/prompts"
	"github.com/frontier-framework/fmf/pkg/provider"
	"github.com/frontier-framework/fmf/pkg/provider/azopenai"
	"github.com/frontier-framework/fmf/pkg/provider/bedrock"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <chain.yaml>",
		Short: "Execute a chain and persist its artefacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(flags.configPath, config.Options{Sets: flags.sets})
			if err != nil {
				return err
			}
			chainCfg, err := chain.LoadConfig(args[0])
			if err != nil {
				return err
			}

			environ, err := buildEnv(cfg)
			if err != nil {
				return err
			}
			client, err := buildProvider(ctx, cfg, environ)
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			runner := &chain.Runner{
				Engine:   cfg,
				Chain:    chainCfg,
				Invoker:  inference.New(client, rps(cfg), defaultMode(cfg)),
				Registry: registry,
				Env:      environ,
			}
			result, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			manifest, err := artefacts.New(cfg).Write(chainCfg, result)
			if err != nil {
				return err
			}
			if err := runExports(ctx, cfg, chainCfg, result); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %d docs, %d steps, %d artefacts\n",
				result.RunID, len(result.Docs), len(result.Steps), len(manifest.Artefacts))
			return nil
		},
	}
}

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <chain.yaml>",
		Short: "Check the engine configuration and a chain without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath, config.Options{Sets: flags.sets})
			if err != nil {
				return err
			}
			chainCfg, err := chain.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if chainCfg.Inputs.Connector != "" {
				if _, ok := cfg.ConnectorByName(chainCfg.Inputs.Connector); !ok {
					return errdefs.Config("chain %q references unknown connector %q", chainCfg.Name, chainCfg.Inputs.Connector)
				}
			}
			for _, step := range chainCfg.Steps {
				if step.RAG == nil {
					continue
				}
				if _, ok := cfg.RAGPipelineByName(step.RAG.Pipeline); !ok {
					return errdefs.Config("chain %q references unknown rag pipeline %q", chainCfg.Name, step.RAG.Pipeline)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration and chain %q are valid\n", chainCfg.Name)
			return nil
		},
	}
}

func buildEnv(cfg *config.Config) (env.Provider, error) {
	providers := []env.Provider{env.NewEnvVariableProvider()}
	if cfg.Auth != nil && cfg.Auth.EnvFile != "" {
		fileProvider, err := env.NewFileProvider(cfg.Auth.EnvFile)
		if err != nil {
			return nil, err
		}
		providers = append([]env.Provider{fileProvider}, providers...)
	}

	var environ env.Provider = env.NewMultiProvider(providers...)
	if cfg.Auth != nil && len(cfg.Auth.Mapping) > 0 {
		environ = env.NewMappedProvider(cfg.Auth.Mapping, environ)
	}
	return environ, nil
}

func buildProvider(ctx context.Context, cfg *config.Config, environ env.Provider) (provider.Client, error) {
	if cfg.Inference == nil {
		return nil, errdefs.Config("config has no inference block")
	}
	switch cfg.Inference.Provider {
	case "azure_openai":
		return azopenai.New(ctx, cfg.Inference.AzureOpenAI, environ)
	case "aws_bedrock":
		return bedrock.FromConfig(ctx, cfg.Inference.AWSBedrock)
	default:
		return nil, errdefs.Config("unsupported inference provider %q", cfg.Inference.Provider)
	}
}

func buildRegistry(cfg *config.Config) (chain.PromptResolver, error) {
	if cfg.PromptRegistry == nil || cfg.PromptRegistry.Path == "" {
		return nil, nil
	}
	registry, err := prompts.NewLocalYamlRegistry(cfg.PromptRegistry.Path, cfg.PromptRegistry.IndexFile)
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func rps(cfg *config.Config) float64 {
	if cfg.Inference == nil {
		return 0
	}
	return cfg.Inference.RPS
}

// defaultMode is regular unless streaming is enabled as experimental;
// FMF_INFER_MODE and per-step infer blocks still override it.
func defaultMode(cfg *config.Config) inference.Mode {
	if cfg.Experimental != nil && cfg.Experimental.Streaming {
		return inference.ModeAuto
	}
	return inference.ModeRegular
}

// runExports delivers declared export outputs to their sinks.
func runExports(ctx context.Context, cfg *config.Config, chainCfg *chain.Config, result *chain.Result) error {
	for _, out := range chainCfg.Outputs {
		if out.Export == "" {
			continue
		}
		records, ok := artefacts.StepRecords(result, out.From)
		if !ok {
			return errdefs.Config("output references unknown step output %q", out.From)
		}
		data, err := artefacts.EncodeRecords(out.As, records)
		if err != nil {
			return err
		}
		format := out.As
		if format == "" {
			format = "jsonl"
		}
		filename := fmt.Sprintf("%s-%s.%s", out.From, result.RunID, format)
		uri, err := exporter.Export(ctx, cfg, out.Export, filename, data)
		if err != nil {
			return err
		}
		slog.Debug("export finished", "from", out.From, "destination", uri)
	}
	return nil
}
