// Package aws maps terrapin compute resources onto AWS EC2 primitives:
// networks become VPCs, subnetworks become subnets, static addresses become
// Elastic IPs, firewall rules become security groups, and instances run on
// EC2 with the startup script passed as user data.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
)

type Provider struct {
	client *ec2.Client
	region string
}

func New() provider.Interface {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	region := settings["region"]
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if profile := settings["profile"]; profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	p.client = ec2.NewFromConfig(cfg)
	p.region = region
	return nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	switch req.Type {
	case ir.TypeNetwork:
		return p.applyNetwork(ctx, req)
	case ir.TypeSubnetwork:
		return p.applySubnetwork(ctx, req)
	case ir.TypeAddress:
		return p.applyAddress(ctx, req)
	case ir.TypeFirewall:
		return p.applyFirewall(ctx, req)
	case ir.TypeInstance:
		return p.applyInstance(ctx, req)
	}
	return nil, fmt.Errorf("aws provider does not support resource type %s", req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	switch req.Type {
	case ir.TypeNetwork:
		return p.deleteNetwork(ctx, req)
	case ir.TypeSubnetwork:
		return p.deleteSubnetwork(ctx, req)
	case ir.TypeAddress:
		return p.deleteAddress(ctx, req)
	case ir.TypeFirewall:
		return p.deleteFirewall(ctx, req)
	case ir.TypeInstance:
		return p.deleteInstance(ctx, req)
	}
	return fmt.Errorf("aws provider does not support resource type %s", req.Type)
}

// isNotFound reports whether an EC2 API error means the resource is already
// gone. Deletes treat that as success so a re-run after a partial destroy
// converges.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return strings.HasSuffix(code, ".NotFound") || strings.HasSuffix(code, ".Malformed")
}
