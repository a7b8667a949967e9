package engine

import (
	"fmt"
	"sort"

	"github.com/terrapin-io/terrapin/internal/expr"
	"github.com/terrapin-io/terrapin/internal/ir"
)

// DAG is the directed acyclic graph of declared resources. Nodes are resource
// addresses; an edge A -> B means A references B and B must be created first.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // creation order
	revOrder []string // destruction order
}

type dagNode struct {
	addr     string
	index    int // declaration order, used as the deterministic tie-break
	edges    []string
	revEdges []string
}

// BuildDAG scans every resource's properties for embedded references, merges
// in explicit dependsOn edges, and returns the graph in a stable topological
// order. Resources with no ordering constraint between them keep their
// declaration order, so repeated plans are reproducible.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(resources))}

	for i, res := range resources {
		dag.nodes[res.Addr()] = &dagNode{addr: res.Addr(), index: i}
	}

	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		seen := make(map[string]bool)

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, fmt.Errorf("%s depends on undeclared resource %s", res.Addr(), dep)
			}
			if dep != res.Addr() && !seen[dep] {
				seen[dep] = true
				node.edges = append(node.edges, dep)
			}
		}

		refs, err := expr.Scan(res.Properties)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", res.Addr(), err)
		}
		for _, ref := range refs {
			target := ref.Target()
			if _, ok := dag.nodes[target]; !ok {
				return nil, fmt.Errorf("%s references undeclared resource %s", res.Addr(), target)
			}
			if target != res.Addr() && !seen[target] {
				seen[target] = true
				node.edges = append(node.edges, target)
			}
		}
		if refSelf(refs, res.Addr()) {
			return nil, &CycleError{Resources: []string{res.Addr()}}
		}
	}

	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order
	dag.revOrder = reversed(order)
	return dag, nil
}

// BuildDAGFromState reconstructs ordering from the dependencies recorded in
// state, used to derive a destruction order when the declaration no longer
// names the resources.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(resources))}

	for i, res := range resources {
		dag.nodes[res.Addr()] = &dagNode{addr: res.Addr(), index: i}
	}
	for _, res := range resources {
		node := dag.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := dag.nodes[dep]; ok && dep != res.Addr() {
				node.edges = append(node.edges, dep)
			}
		}
	}
	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order
	dag.revOrder = reversed(order)
	return dag, nil
}

// CreationOrder returns resource addresses in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns the exact reverse of the creation order.
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the direct dependencies of the given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDependents returns every address that directly or transitively
// depends on the given address. Used to report the resources left unapplied
// when a provider operation fails.
func (d *DAG) TransitiveDependents(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.revEdges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return d.nodes[out[i]].index < d.nodes[out[j]].index
	})
	return out
}

// topoSort runs Kahn's algorithm. The ready set is always drained in
// declaration order, which makes the plan stable across runs. Leftover nodes
// after the sort are exactly the cycle participants.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var ready []*dagNode
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, d.nodes[addr])
		}
	}

	var sorted []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.addr)

		for _, dependent := range node.revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, d.nodes[dependent])
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		var cycle []string
		for addr, deg := range inDegree {
			if deg > 0 {
				cycle = append(cycle, addr)
			}
		}
		sort.Strings(cycle)
		return nil, &CycleError{Resources: cycle}
	}
	return sorted, nil
}

func refSelf(refs []expr.Ref, addr string) bool {
	for _, ref := range refs {
		if ref.Target() == addr {
			return true
		}
	}
	return false
}

func reversed(order []string) []string {
	out := make([]string, len(order))
	for i, addr := range order {
		out[len(order)-1-i] = addr
	}
	return out
}
