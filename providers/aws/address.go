package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrapin-io/terrapin/internal/provider"
)

type addressInputs struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

type addressOutputs struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (p *Provider) applyAddress(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in addressInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address inputs: %w", err)
	}

	// An allocation is immutable. The reserved IP must survive updates, so
	// any prior allocation is kept as is.
	if req.PriorJSON != nil {
		var prior addressOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			return marshalOutputs(prior)
		}
	}

	resp, err := p.client.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: types.DomainTypeVpc,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeElasticIp,
			Tags:         nameTags(in.Name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate address: %w", err)
	}

	return marshalOutputs(addressOutputs{
		ID:      aws.ToString(resp.AllocationId),
		Address: aws.ToString(resp.PublicIp),
	})
}

func (p *Provider) deleteAddress(ctx context.Context, req *provider.DeleteRequest) error {
	var prior addressOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if _, err := p.client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to release address %s: %w", prior.ID, err)
	}
	return nil
}
