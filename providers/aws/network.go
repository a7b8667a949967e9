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

// networkInputs describes a compute_network. AWS requires a CIDR at VPC
// creation even though subnets carve their own ranges, so a network without
// one gets a default /16.
type networkInputs struct {
	Name string `json:"name"`
	Cidr string `json:"cidr"`
}

type networkOutputs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const defaultVpcCidr = "10.0.0.0/16"

func (p *Provider) applyNetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in networkInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal network inputs: %w", err)
	}
	if in.Cidr == "" {
		in.Cidr = defaultVpcCidr
	}

	// Recreating a VPC would orphan everything inside it, so updates reuse
	// the prior identifier and only refresh tags.
	if req.PriorJSON != nil {
		var prior networkOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			if err := p.tagResource(ctx, prior.ID, in.Name); err != nil {
				return nil, err
			}
			prior.Name = in.Name
			return marshalOutputs(prior)
		}
	}

	resp, err := p.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(in.Cidr),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeVpc,
			Tags:         nameTags(in.Name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := aws.ToString(resp.Vpc.VpcId)

	// DNS hostnames are needed for instances to resolve each other by name.
	_, _ = p.client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(vpcID),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})

	return marshalOutputs(networkOutputs{ID: vpcID, Name: in.Name})
}

func (p *Provider) deleteNetwork(ctx context.Context, req *provider.DeleteRequest) error {
	var prior networkOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if _, err := p.client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete VPC %s: %w", prior.ID, err)
	}
	return nil
}

type subnetworkInputs struct {
	Name    string `json:"name"`
	Network string `json:"network"`
	Cidr    string `json:"cidr"`
	Region  string `json:"region"`
}

type subnetworkOutputs struct {
	ID      string `json:"id"`
	Network string `json:"network"`
	Cidr    string `json:"cidr"`
}

func (p *Provider) applySubnetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in subnetworkInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subnetwork inputs: %w", err)
	}
	if in.Network == "" {
		return nil, fmt.Errorf("subnetwork %s requires a network", req.Name)
	}

	if req.PriorJSON != nil {
		var prior subnetworkOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			if err := p.tagResource(ctx, prior.ID, in.Name); err != nil {
				return nil, err
			}
			return marshalOutputs(prior)
		}
	}

	resp, err := p.client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:     aws.String(in.Network),
		CidrBlock: aws.String(in.Cidr),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSubnet,
			Tags:         nameTags(in.Name),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}

	// Instances in this subnet get public IPs so the startup script can
	// reach package mirrors without a NAT gateway.
	_, _ = p.client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            resp.Subnet.SubnetId,
		MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})

	return marshalOutputs(subnetworkOutputs{
		ID:      aws.ToString(resp.Subnet.SubnetId),
		Network: aws.ToString(resp.Subnet.VpcId),
		Cidr:    in.Cidr,
	})
}

func (p *Provider) deleteSubnetwork(ctx context.Context, req *provider.DeleteRequest) error {
	var prior subnetworkOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if _, err := p.client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete subnet %s: %w", prior.ID, err)
	}
	return nil
}

func (p *Provider) tagResource(ctx context.Context, id, name string) error {
	_, err := p.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      nameTags(name),
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", id, err)
	}
	return nil
}

func nameTags(name string) []types.Tag {
	return []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
}

func marshalOutputs(v any) (*provider.ApplyResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return &provider.ApplyResponse{OutputsJSON: data}, nil
}
