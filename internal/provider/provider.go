// Package provider defines the contract between the apply engine and the
// backends that actually create cloud resources. Resolved inputs and recorded
// state cross the boundary as JSON blobs, keeping providers decoupled from
// engine value types.
package provider

import "context"

// ApplyRequest asks a provider to create or update one resource. PriorJSON
// holds the previously recorded computed attributes, nil on first creation.
type ApplyRequest struct {
	Type       string
	Name       string
	InputsJSON []byte
	PriorJSON  []byte
}

// ApplyResponse carries the provider-assigned computed attributes, such as an
// allocated address or instance identifier.
type ApplyResponse struct {
	OutputsJSON []byte
}

// DeleteRequest asks a provider to destroy one resource.
type DeleteRequest struct {
	Type      string
	Name      string
	PriorJSON []byte
}

// Interface is implemented by every resource backend. Operations block until
// the remote call settles and must honor context cancellation.
type Interface interface {
	// Configure prepares the provider with its declaration-level settings
	// (region, profile, endpoints) before any resource operation.
	Configure(ctx context.Context, settings map[string]string) error

	// Apply creates the resource, or updates it in place when prior state is
	// supplied. It returns the resource's computed attributes.
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)

	// Delete destroys the resource described by the prior state.
	Delete(ctx context.Context, req *DeleteRequest) error
}
