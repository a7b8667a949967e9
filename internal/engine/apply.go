package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terrapin-io/terrapin/internal/expr"
	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/logging"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// Result reports what one apply run did. Unapplied holds every resource that
// errored plus everything depending on one that did; resources with no path
// to a failure still converge.
type Result struct {
	Applied   []string
	Skipped   []string
	Destroyed []string
	Failed    map[string]error
	Unapplied []string
	Outputs   map[string]any
}

// Event reports per-resource progress during apply.
type Event struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "skipped", "failed"
	Duration time.Duration
	Err      error
}

// Callback receives apply progress events when set.
type Callback func(Event)

// Apply converges the declaration against state: it walks resources in
// creation order, resolves each one's references against already-applied
// attributes, skips resources whose input fingerprint matches their state
// record, and invokes the provider for the rest. State is mutated in place as
// individual resources commit, so the caller can persist partial progress
// even when the run halts. Cancellation takes effect between resource
// operations, never mid-operation.
func (e *Engine) Apply(ctx context.Context, cfg *ir.Config, state *ir.State) (*Result, error) {
	return e.ApplyWithCallback(ctx, cfg, state, nil)
}

// ApplyWithCallback is Apply with per-resource progress events.
func (e *Engine) ApplyWithCallback(ctx context.Context, cfg *ir.Config, state *ir.State, cb Callback) (*Result, error) {
	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, err
	}

	run := &applyRun{
		engine: e,
		cfg:    cfg,
		state:  state,
		dag:    dag,
		table:  tableFromState(state),
		dead:   make(map[string]bool),
		result: &Result{Failed: make(map[string]error)},
		emit:   func(Event) {},
	}
	if cb != nil {
		run.emit = cb
	}

	if e.Parallelism > 1 {
		run.walkParallel(ctx)
	} else {
		run.walkSequential(ctx)
	}

	run.destroyRemoved(ctx)

	result := run.result
	result.Unapplied = run.unapplied()

	var errs []error
	if run.abortErr != nil {
		errs = append(errs, run.abortErr)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("apply cancelled: %w", err))
	}
	for _, addr := range sortedKeys(result.Failed) {
		errs = append(errs, &ProviderError{
			Address:   addr,
			Unapplied: dag.TransitiveDependents(addr),
			Err:       result.Failed[addr],
		})
	}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	outputs, err := ResolveOutputs(cfg.Outputs, run.table)
	if err != nil {
		return result, err
	}
	result.Outputs = outputs
	state.Outputs = outputs
	return result, nil
}

// applyRun carries the shared mutable pieces of one apply walk. mu guards
// table, state, dead and result; provider calls never hold it.
type applyRun struct {
	engine *Engine
	cfg    *ir.Config
	state  *ir.State
	dag    *DAG
	table  expr.Table
	dead   map[string]bool
	result *Result
	emit   Callback

	mu sync.Mutex

	// abortErr is set when resolution hits a reference the walk should have
	// satisfied. That is a planner defect, not a provider failure, so the
	// run stops issuing provider calls and surfaces the error as-is.
	abortErr error
}

func (r *applyRun) abort(err error) {
	r.mu.Lock()
	if r.abortErr == nil {
		r.abortErr = err
	}
	r.mu.Unlock()
}

func (r *applyRun) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortErr != nil
}

func (r *applyRun) walkSequential(ctx context.Context) {
	for _, addr := range r.dag.CreationOrder() {
		if ctx.Err() != nil || r.aborted() {
			r.dead[addr] = true
			continue
		}
		if r.depDead(addr) {
			r.dead[addr] = true
			continue
		}
		r.applyOne(ctx, addr)
	}
}

// walkParallel runs independent resources concurrently through a worker pool.
// Each resource waits on a condition variable until its direct dependencies
// either committed or died.
func (r *applyRun) walkParallel(ctx context.Context) {
	settled := make(map[string]bool)
	cond := sync.NewCond(&r.mu)
	sem := make(chan struct{}, r.engine.Parallelism)

	var wg sync.WaitGroup
	for _, addr := range r.dag.CreationOrder() {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			r.mu.Lock()
			for !r.depsSettledLocked(settled, addr) {
				cond.Wait()
			}
			depDead := r.depDeadLocked(addr)
			if depDead || ctx.Err() != nil || r.abortErr != nil {
				r.dead[addr] = true
				settled[addr] = true
				r.mu.Unlock()
				cond.Broadcast()
				return
			}
			r.mu.Unlock()

			sem <- struct{}{}
			r.applyOne(ctx, addr)
			<-sem

			r.mu.Lock()
			settled[addr] = true
			r.mu.Unlock()
			cond.Broadcast()
		}(addr)
	}
	wg.Wait()
}

func (r *applyRun) depsSettledLocked(settled map[string]bool, addr string) bool {
	for _, dep := range r.dag.Dependencies(addr) {
		if !settled[dep] {
			return false
		}
	}
	return true
}

func (r *applyRun) depDead(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depDeadLocked(addr)
}

func (r *applyRun) depDeadLocked(addr string) bool {
	for _, dep := range r.dag.Dependencies(addr) {
		if r.dead[dep] {
			return true
		}
	}
	return false
}

// applyOne converges a single resource: resolve, fingerprint, skip or invoke
// the provider, then commit the new state record and attribute table entry.
func (r *applyRun) applyOne(ctx context.Context, addr string) {
	res := r.cfg.ResourceByAddr(addr)
	start := time.Now()

	r.mu.Lock()
	resolved, err := resolveInputs(res, r.table)
	prior := r.state.ResourceByAddr(addr)
	r.mu.Unlock()
	if err != nil {
		var unresolved *UnresolvedReferenceError
		if errors.As(err, &unresolved) {
			r.abort(err)
			r.mu.Lock()
			r.dead[addr] = true
			r.mu.Unlock()
			return
		}
		r.fail(addr, ir.ActionCreate, start, err)
		return
	}

	fp, err := Fingerprint(resolved)
	if err != nil {
		r.fail(addr, ir.ActionCreate, start, err)
		return
	}

	if prior != nil && prior.InputsHash == fp {
		r.mu.Lock()
		r.table.Put(res.Type, res.Name, mergeAttrs(resolved, prior.Outputs))
		r.result.Skipped = append(r.result.Skipped, addr)
		r.mu.Unlock()
		r.emit(Event{Address: addr, Action: ir.ActionNoop, Status: "skipped"})
		logging.Debug("resource unchanged", "address", addr)
		return
	}

	action := ir.ActionCreate
	var priorJSON []byte
	if prior != nil {
		action = ir.ActionUpdate
		priorJSON, _ = json.Marshal(prior.Outputs)
	}
	r.emit(Event{Address: addr, Action: action, Status: "started"})

	prov, err := r.engine.registry.Get(res.Provider)
	if err != nil {
		r.fail(addr, action, start, err)
		return
	}

	inputsJSON, err := json.Marshal(resolved)
	if err != nil {
		r.fail(addr, action, start, fmt.Errorf("encoding inputs for %s: %w", addr, err))
		return
	}

	resp, err := prov.Apply(ctx, &provider.ApplyRequest{
		Type:       res.Type,
		Name:       res.Name,
		InputsJSON: inputsJSON,
		PriorJSON:  priorJSON,
	})
	if err != nil {
		r.fail(addr, action, start, err)
		return
	}

	var outputs map[string]any
	if len(resp.OutputsJSON) > 0 {
		if err := json.Unmarshal(resp.OutputsJSON, &outputs); err != nil {
			r.fail(addr, action, start, fmt.Errorf("decoding computed attributes for %s: %w", addr, err))
			return
		}
	}

	rec := &ir.ResourceState{
		Type:         res.Type,
		Name:         res.Name,
		Provider:     res.Provider,
		Inputs:       res.RedactInputs(resolved),
		InputsHash:   fp,
		Outputs:      outputs,
		Dependencies: r.dag.Dependencies(addr),
	}

	r.mu.Lock()
	r.state.Upsert(rec)
	r.table.Put(res.Type, res.Name, mergeAttrs(resolved, outputs))
	r.result.Applied = append(r.result.Applied, addr)
	r.mu.Unlock()

	r.emit(Event{Address: addr, Action: action, Status: "completed", Duration: time.Since(start)})
	logging.Info("resource applied", "address", addr, "action", string(action))
}

// destroyRemoved deletes state records no longer present in the declaration,
// in reverse creation order.
func (r *applyRun) destroyRemoved(ctx context.Context) {
	for _, rec := range deletionsInOrder(r.cfg, r.state) {
		addr := rec.Addr()
		if ctx.Err() != nil || r.aborted() {
			r.dead[addr] = true
			continue
		}
		start := time.Now()
		r.emit(Event{Address: addr, Action: ir.ActionDelete, Status: "started"})

		prov, err := r.engine.registry.Get(rec.Provider)
		if err != nil {
			r.fail(addr, ir.ActionDelete, start, err)
			continue
		}
		priorJSON, _ := json.Marshal(rec.Outputs)
		if err := prov.Delete(ctx, &provider.DeleteRequest{
			Type:      rec.Type,
			Name:      rec.Name,
			PriorJSON: priorJSON,
		}); err != nil {
			r.fail(addr, ir.ActionDelete, start, err)
			continue
		}

		r.mu.Lock()
		r.state.Remove(addr)
		r.result.Destroyed = append(r.result.Destroyed, addr)
		r.mu.Unlock()
		r.emit(Event{Address: addr, Action: ir.ActionDelete, Status: "completed", Duration: time.Since(start)})
		logging.Info("resource destroyed", "address", addr)
	}
}

func (r *applyRun) fail(addr string, action ir.Action, start time.Time, err error) {
	r.mu.Lock()
	r.dead[addr] = true
	r.result.Failed[addr] = err
	r.mu.Unlock()
	r.emit(Event{Address: addr, Action: action, Status: "failed", Duration: time.Since(start), Err: err})
	logging.Error("resource failed", "address", addr, "error", err)
}

// unapplied lists every dead resource in creation order: the failures plus
// everything that depends on one.
func (r *applyRun) unapplied() []string {
	var out []string
	for _, addr := range r.dag.CreationOrder() {
		if r.dead[addr] {
			out = append(out, addr)
		}
	}
	// Deletions can fail too; they have no place in the creation order.
	for addr := range r.dead {
		if r.cfg.ResourceByAddr(addr) == nil {
			out = append(out, addr)
		}
	}
	return out
}

func mergeAttrs(inputs, outputs map[string]any) map[string]any {
	merged := make(map[string]any, len(inputs)+len(outputs))
	for k, v := range inputs {
		merged[k] = v
	}
	for k, v := range outputs {
		merged[k] = v
	}
	return merged
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
