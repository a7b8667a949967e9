// Package eval loads PKL declarations and state files into their in-memory
// representation and validates declarations before any provider is touched.
package eval

import (
	"context"
	"fmt"
	"net/url"

	"github.com/apple/pkl-go/pkl"
	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/pkg/schemas"
)

// SchemaScheme is the module URI scheme under which the embedded schemas are
// served, e.g. terrapin:/State.pkl.
const SchemaScheme = "terrapin"

// Evaluator handles PKL evaluation into ir types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadConfig evaluates the declaration entry point and returns the validated
// in-memory model. Declaration variables (project, region, CIDR, machine
// type, secrets) arrive as external properties; a required variable with no
// default fails PKL evaluation and surfaces as a SchemaError.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){
		pkl.PreconfiguredOptions,
		pkl.WithFs(schemas.FS, SchemaScheme),
	}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &cfg); err != nil {
		return nil, &SchemaError{Subject: entryPoint, Detail: err.Error()}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadState evaluates a state file and returns the recorded state.
func (e *Evaluator) LoadState(ctx context.Context, stateFile string) (*ir.State, error) {
	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions, pkl.WithFs(schemas.FS, SchemaScheme))
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var state ir.State
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(stateFile), &state); err != nil {
		return nil, fmt.Errorf("failed to evaluate state: %w", err)
	}

	return &state, nil
}
