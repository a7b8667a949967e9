package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Print the dependency graph in DOT format",
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := workspace(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		return err
	}

	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("digraph terrapin {\n")
	b.WriteString("  rankdir = \"TB\"\n")
	for _, addr := range dag.CreationOrder() {
		fmt.Fprintf(&b, "  %q\n", addr)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Fprintf(&b, "  %q -> %q\n", addr, dep)
		}
	}
	b.WriteString("}\n")

	fmt.Print(b.String())
	return nil
}
