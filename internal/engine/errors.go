package engine

import (
	"fmt"
	"strings"
)

// CycleError reports a reference cycle in the declared resource graph. It is
// raised before any provider operation is attempted and is only fixable by
// correcting the declaration.
type CycleError struct {
	Resources []string
}

func (e *CycleError) Error() string {
	return "dependency cycle detected among: " + strings.Join(e.Resources, ", ")
}

// UnresolvedReferenceError reports a reference whose target attribute was not
// resolved when it was needed. During apply this is an internal invariant
// violation (the graph walk guarantees targets resolve first), never a user
// error.
type UnresolvedReferenceError struct {
	Address string
	Ref     string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("internal: reference %s unresolved while evaluating %s", e.Ref, e.Address)
}

// ProviderError wraps a failed provider operation with the address of the
// failing resource and the addresses left unapplied because of it. The core
// performs no retry; re-running apply converges from the persisted state.
type ProviderError struct {
	Address   string
	Unapplied []string
	Err       error
}

func (e *ProviderError) Error() string {
	if len(e.Unapplied) > 0 {
		return fmt.Sprintf("provider operation failed for %s (unapplied: %s): %v",
			e.Address, strings.Join(e.Unapplied, ", "), e.Err)
	}
	return fmt.Sprintf("provider operation failed for %s: %v", e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
