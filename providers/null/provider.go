// Package null provides a provider that creates nothing. Every resource
// echoes its inputs back as computed attributes plus a synthetic identifier
// and, for addresses, a placeholder IP. Useful for dry-running declarations
// and as the backend for engine tests.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
)

type Provider struct{}

func New() provider.Interface {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var inputs map[string]any
	if err := json.Unmarshal(req.InputsJSON, &inputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
	}

	outputs := map[string]any{
		"id": fmt.Sprintf("null-%s-%s", req.Type, req.Name),
	}
	for k, v := range inputs {
		if _, taken := outputs[k]; !taken {
			outputs[k] = v
		}
	}
	switch req.Type {
	case ir.TypeAddress:
		outputs["address"] = "198.51.100.1"
	case ir.TypeInstance:
		outputs["private_ip"] = "10.0.0.2"
		outputs["public_ip"] = "198.51.100.1"
	}

	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return &provider.ApplyResponse{OutputsJSON: data}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	return nil
}
