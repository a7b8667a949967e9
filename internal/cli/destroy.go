package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/eval"
	"github.com/terrapin-io/terrapin/internal/ir"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long: `Deletes every resource recorded in state, in reverse creation order,
and clears the recorded outputs. The declaration is only consulted for
provider settings.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	registry := newRegistry()
	eng := engine.NewEngine(registry)

	// Provider settings and the state backend still come from the
	// declaration when it loads; a missing declaration falls back to
	// defaults.
	var providerSettings map[string]map[string]string
	cfg, cfgErr := evaluator.LoadConfig(ctx, entryPoint, nil)
	if cfgErr != nil {
		cfg = nil
	} else {
		providerSettings = cfg.Providers
	}

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
	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	if err := loadProviders(ctx, registry, &ir.Config{Providers: providerSettings}, currentState); err != nil {
		return err
	}

	fmt.Printf("Terrapin will destroy %d resources:\n", len(currentState.Resources))
	for _, res := range currentState.Resources {
		fmt.Printf("%s  - %s%s\n", colorRed, res.Addr(), colorReset)
	}

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	// An empty declaration makes every recorded resource a removal, which
	// the engine deletes in reverse creation order.
	empty := &ir.Config{Providers: providerSettings}
	result, destroyErr := eng.ApplyWithCallback(ctx, empty, currentState, renderApplyEvent)

	if err := stateMgr.Write(ctx, currentState); err != nil {
		if destroyErr != nil {
			return fmt.Errorf("destroy failed (%w) and state could not be written: %v", destroyErr, err)
		}
		return fmt.Errorf("failed to write state: %w", err)
	}
	if destroyErr != nil {
		return destroyErr
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", len(result.Destroyed))
	return nil
}
