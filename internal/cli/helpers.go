package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/terrapin-io/terrapin/internal/eval"
	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
	"github.com/terrapin-io/terrapin/internal/state"
	"github.com/terrapin-io/terrapin/providers/aws"
	"github.com/terrapin-io/terrapin/providers/docker"
	"github.com/terrapin-io/terrapin/providers/null"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// workspace resolves the optional positional argument into a project
// directory and PKL entry point. A file argument names the entry point; a
// directory argument implies main.pkl inside it.
func workspace(args []string) (wd, entryPoint string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// stateStore returns the backend the declaration names, defaulting to the
// local state file under the workspace's .terrapin directory.
func stateStore(cfg *ir.Config, wd string, evaluator *eval.Evaluator) (state.Backend, error) {
	if cfg != nil && cfg.Backend != nil && cfg.Backend.Type != "" && cfg.Backend.Type != "local" {
		return state.NewBackend(&state.BackendConfig{
			Type:   cfg.Backend.Type,
			Config: cfg.Backend.Config,
		}, evaluator)
	}
	return state.NewManager(filepath.Join(wd, ".terrapin", "state.pkl"), evaluator), nil
}

// newRegistry returns a registry with every built-in provider registered.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("aws", aws.New)
	registry.Register("docker", docker.New)
	registry.Register("null", null.New)
	return registry
}

// loadProviders configures every provider the declaration or the state
// refers to. State providers matter for deletions of resources no longer
// declared.
func loadProviders(ctx context.Context, registry *provider.Registry, cfg *ir.Config, st *ir.State) error {
	seen := make(map[string]bool)
	load := func(name string) error {
		if name == "" || seen[name] {
			return nil
		}
		seen[name] = true
		var settings map[string]string
		if cfg != nil {
			settings = cfg.Providers[name]
		}
		if err := registry.Load(ctx, name, settings); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		return nil
	}

	if cfg != nil {
		for _, res := range cfg.Resources {
			if err := load(res.Provider); err != nil {
				return err
			}
		}
	}
	if st != nil {
		for _, res := range st.Resources {
			if err := load(res.Provider); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol, color := changeStyle(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %sd%s\n", color, change.Address, change.Action, colorReset)
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {%s\n", color, symbol, resourceType, resourceName, colorReset)
		renderPropertyDiff(change.Diff)
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

func changeStyle(action ir.Action) (symbol, color string) {
	switch action {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDelete:
		return "-", colorRed
	case ir.ActionUpdate:
		return "~", colorYellow
	}
	return " ", colorReset
}

func renderPropertyDiff(diff map[string]*ir.PropertyDiff) {
	for _, key := range sortedDiffKeys(diff) {
		d := diff[key]
		switch d.Action {
		case ir.ActionCreate:
			fmt.Printf("%s      + %s = %s%s\n", colorGreen, key, formatDiffValue(d.After, d.Sensitive), colorReset)
		case ir.ActionDelete:
			fmt.Printf("%s      - %s = %s%s\n", colorRed, key, formatDiffValue(d.Before, d.Sensitive), colorReset)
		case ir.ActionUpdate:
			fmt.Printf("%s      ~ %s = %s -> %s%s\n", colorYellow, key,
				formatDiffValue(d.Before, d.Sensitive), formatDiffValue(d.After, d.Sensitive), colorReset)
		default:
			fmt.Printf("        %s = %s\n", key, formatDiffValue(d.After, d.Sensitive))
		}
	}
}

func formatDiffValue(v any, sensitive bool) string {
	if sensitive {
		return ir.RedactedValue
	}
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

func sortedDiffKeys(diff map[string]*ir.PropertyDiff) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", plan.Summary.Create)
	fmt.Printf("  Update: %d\n", plan.Summary.Update)
	fmt.Printf("  Delete: %d\n", plan.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", plan.Summary.NoOp)
}
