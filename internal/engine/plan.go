package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/logging"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// DefaultParallelism bounds concurrent provider calls during apply.
// Correctness never depends on concurrency; the graph walk is the ordering
// contract.
const DefaultParallelism = 4

// Engine computes plans and converges declared resources against state.
type Engine struct {
	registry *provider.Registry

	// Parallelism is the worker pool width for apply. Values <= 1 apply
	// strictly sequentially in creation order.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: DefaultParallelism,
	}
}

// CreatePlan diffs the declaration against state and returns the ordered set
// of changes an apply would perform. Resources whose resolved-input
// fingerprint matches their state record are no-ops and carry no change
// entry. The plan is advisory: apply re-checks every fingerprint after
// upstream resources settle, so a resource classified no-op here is still
// re-verified if a dependency changes underneath it.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources))

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
		Outputs:  cfg.Outputs,
	}

	table := tableFromState(state)

	for _, addr := range dag.CreationOrder() {
		res := cfg.ResourceByAddr(addr)
		prior := state.ResourceByAddr(addr)

		if prior == nil {
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  ir.ActionCreate,
				Desired: res,
				Diff:    buildCreateDiff(res),
			})
			plan.Summary.Create++
			continue
		}

		resolved, rerr := resolveInputs(res, table)
		if rerr != nil {
			var unresolved *UnresolvedReferenceError
			if !errors.As(rerr, &unresolved) {
				return nil, rerr
			}
			// A referenced attribute only materializes once an upstream
			// resource is (re)created, so this resource cannot be proven
			// unchanged yet.
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: addr,
				Action:  ir.ActionUpdate,
				Desired: res,
				Prior:   prior,
				Diff:    buildUpdateDiff(res, prior.Inputs, res.RedactInputs(res.Properties)),
			})
			plan.Summary.Update++
			continue
		}

		fp, err := Fingerprint(resolved)
		if err != nil {
			return nil, err
		}
		if fp == prior.InputsHash {
			plan.Summary.NoOp++
			continue
		}

		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionUpdate,
			Desired: res,
			Prior:   prior,
			Diff:    buildUpdateDiff(res, prior.Inputs, res.RedactInputs(resolved)),
		})
		plan.Summary.Update++
	}

	// Resources present in state but dropped from the declaration are
	// destroyed, in reverse creation order among themselves.
	for _, rec := range deletionsInOrder(cfg, state) {
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: rec.Addr(),
			Action:  ir.ActionDelete,
			Prior:   rec,
			Diff:    buildDeleteDiff(rec.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// deletionsInOrder returns the state records absent from the declaration, in
// destruction order derived from the dependencies recorded in state.
func deletionsInOrder(cfg *ir.Config, state *ir.State) []*ir.ResourceState {
	var toDelete []*ir.ResourceState
	for _, rec := range state.Resources {
		if cfg.ResourceByAddr(rec.Addr()) == nil {
			toDelete = append(toDelete, rec)
		}
	}
	if len(toDelete) < 2 {
		return toDelete
	}

	dag, err := BuildDAGFromState(state.Resources)
	if err != nil {
		// Recorded dependencies should never cycle; fall back to the stored
		// order rather than blocking a destroy.
		logging.Warn("state dependency graph invalid, using stored order", "error", err)
		return toDelete
	}

	byAddr := make(map[string]*ir.ResourceState, len(toDelete))
	for _, rec := range toDelete {
		byAddr[rec.Addr()] = rec
	}
	ordered := make([]*ir.ResourceState, 0, len(toDelete))
	for _, addr := range dag.DestructionOrder() {
		if rec, ok := byAddr[addr]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered
}

func buildCreateDiff(res *ir.Resource) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(res.Properties))
	for k, v := range res.Properties {
		d := &ir.PropertyDiff{After: v, Action: ir.ActionCreate}
		if res.IsSensitive(k) {
			d.After = ir.RedactedValue
			d.Sensitive = true
		}
		diff[k] = d
	}
	return diff
}

func buildUpdateDiff(res *ir.Resource, prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]
		sensitive := res.IsSensitive(k)

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Sensitive: sensitive, Action: ir.ActionCreate}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Sensitive: sensitive, Action: ir.ActionDelete}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Sensitive: sensitive, Action: ir.ActionUpdate}
		}
	}
	return diff
}

func buildDeleteDiff(inputs map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(inputs))
	for k, v := range inputs {
		diff[k] = &ir.PropertyDiff{Before: v, Action: ir.ActionDelete}
	}
	return diff
}
