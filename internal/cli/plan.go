package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/eval"
)

var planProperties map[string]string

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Show what an apply would change",
	Long: `Diffs the declaration against recorded state and prints the ordered
set of changes an apply would perform, without touching any provider.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	eng := engine.NewEngine(newRegistry())

	fmt.Print("Loading declaration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load declaration: %w", err)
	}
	fmt.Println("OK")

	stateMgr, err := stateStore(cfg, wd, evaluator)
	if err != nil {
		return err
	}
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if !plan.HasChanges() {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nTerrapin will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	return nil
}
