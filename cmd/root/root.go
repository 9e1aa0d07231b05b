// Package root assembles the fmf command tree.
package root

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/frontier-framework/fmf/pkg/logging"
)

type rootFlags struct {
	configPath string
	sets       []string
	verbose    bool
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "fmf",
		Short: "fmf - batch LLM orchestration engine",
		Long:  "fmf runs declarative chains of prompt steps over documents, tables, and images.",
		Example: `  fmf run chains/reviews.yaml
  fmf run chains/reviews.yaml --config fmf.yaml --set inference.rps=2
  fmf validate chains/reviews.yaml`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(cmd.ErrOrStderr(), flags.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Accept snake_case spellings of multi-word flags.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "fmf.yaml", "Path to the engine configuration file")
	cmd.PersistentFlags().StringArrayVar(&flags.sets, "set", nil, "Configuration override key.path=value (repeatable)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newValidateCmd(&flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
