package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/eval"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from the last apply",
	RunE:  runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Print outputs as JSON")
}

func runOutput(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)

	// The declaration only matters for its backend block here; outputs are
	// read straight from state.
	cfg, cfgErr := evaluator.LoadConfig(ctx, entryPoint, nil)
	if cfgErr != nil {
		cfg = nil
	}
	stateMgr, err := stateStore(cfg, wd, evaluator)
	if err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(args) > 0 {
		name := args[0]
		value, ok := currentState.Outputs[name]
		if !ok {
			return fmt.Errorf("output %q not found in state", name)
		}
		fmt.Printf("%v\n", value)
		return nil
	}

	if len(currentState.Outputs) == 0 {
		fmt.Println("No outputs recorded. Run apply first.")
		return nil
	}

	if outputJSON {
		data, err := json.MarshalIndent(currentState.Outputs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode outputs: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, name := range sortedOutputNames(currentState.Outputs) {
		fmt.Printf("%s = %v\n", name, currentState.Outputs[name])
	}
	return nil
}
