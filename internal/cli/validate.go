package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/eval"
)

var validateProperties map[string]string

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a declaration without touching state or providers",
	Long: `Evaluates the declaration, checks attribute shapes and reference
integrity, and verifies that the dependency graph has no cycles.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringToStringVarP(&validateProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, validateProperties)
	if err != nil {
		return err
	}

	if _, err := engine.BuildDAG(cfg.Resources); err != nil {
		return err
	}

	fmt.Printf("Declaration is valid: %d resources, %d outputs.\n", len(cfg.Resources), len(cfg.Outputs))
	return nil
}
