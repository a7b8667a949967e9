package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/eval"
)

var (
	applyAutoApprove bool
	applyProperties  map[string]string
	applyParallelism int
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a declaration",
	Long: `Creates or updates infrastructure to match the declaration.

Resources are applied in dependency order. A resource whose resolved inputs
are unchanged since the last apply is skipped without touching the provider.
When a resource fails, its dependents are left unapplied, but independent
resources still converge and everything that succeeded is recorded in state.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent resource operations")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	registry := newRegistry()
	eng := engine.NewEngine(registry)
	eng.Parallelism = applyParallelism

	fmt.Print("Loading declaration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load declaration: %w", err)
	}
	fmt.Println("OK")

	stateMgr, err := stateStore(cfg, wd, evaluator)
	if err != nil {
		return err
	}
	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if err := loadProviders(ctx, registry, cfg, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if !plan.HasChanges() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nTerrapin will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	result, applyErr := eng.ApplyWithCallback(ctx, cfg, currentState, renderApplyEvent)
	if result == nil {
		// The graph never validated; nothing ran and state is untouched.
		return applyErr
	}

	// State is written even on failure so committed resources are not lost.
	if err := stateMgr.Write(ctx, currentState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("apply failed (%w) and state could not be written: %v", applyErr, err)
		}
		return fmt.Errorf("failed to write state: %w", err)
	}

	if applyErr != nil {
		fmt.Printf("\nApply halted: %d applied, %d failed, %d not applied.\n",
			len(result.Applied), len(result.Failed), len(result.Unapplied))
		return applyErr
	}

	fmt.Printf("\nApply complete! Resources: %d applied, %d unchanged, %d destroyed.\n",
		len(result.Applied), len(result.Skipped), len(result.Destroyed))

	if len(result.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for _, name := range sortedOutputNames(result.Outputs) {
			fmt.Printf("  %s = %v\n", name, result.Outputs[name])
		}
	}
	return nil
}

func renderApplyEvent(ev engine.Event) {
	switch ev.Status {
	case "completed":
		fmt.Printf("%s%s: %sd (%s)%s\n", colorGreen, ev.Address, ev.Action, ev.Duration.Round(10*time.Millisecond), colorReset)
	case "skipped":
		fmt.Printf("%s: unchanged\n", ev.Address)
	case "failed":
		fmt.Printf("%s%s: failed: %v%s\n", colorRed, ev.Address, ev.Err, colorReset)
	}
}

func sortedOutputNames(outputs map[string]any) []string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
