package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrapin-io/terrapin/internal/provider"
)

type firewallInputs struct {
	Name         string         `json:"name"`
	Network      string         `json:"network"`
	Allow        []firewallRule `json:"allow"`
	SourceRanges []string       `json:"source_ranges"`
	TargetTags   []string       `json:"target_tags"`
}

// firewallRule admits traffic for one protocol on a set of ports. Ports
// arrive as numbers or numeric strings depending on how the declaration
// spelled them.
type firewallRule struct {
	Protocol string `json:"protocol"`
	Ports    []any  `json:"ports"`
}

type firewallOutputs struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	TargetTags []string `json:"target_tags"`
}

func (p *Provider) applyFirewall(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in firewallInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal firewall inputs: %w", err)
	}
	if in.Network == "" {
		return nil, fmt.Errorf("firewall %s requires a network", req.Name)
	}

	// Rule changes recreate the group. Security group rules have no stable
	// identity to diff against, so replace is the only safe update. The old
	// group must come off its instances before EC2 will delete it.
	if req.PriorJSON != nil {
		var prior firewallOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			if err := p.detachSecurityGroup(ctx, prior.ID); err != nil {
				return nil, err
			}
			if _, err := p.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
				GroupId: aws.String(prior.ID),
			}); err != nil && !isNotFound(err) {
				return nil, fmt.Errorf("failed to replace security group %s: %w", prior.ID, err)
			}
		}
	}

	resp, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(in.Name),
		Description: aws.String("managed by terrapin"),
		VpcId:       aws.String(in.Network),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSecurityGroup,
			Tags:         firewallTags(in),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}
	groupID := aws.ToString(resp.GroupId)

	perms, err := ipPermissions(in)
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if _, err := p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: perms,
		}); err != nil {
			return nil, fmt.Errorf("failed to authorize ingress on %s: %w", groupID, err)
		}
	}

	// Attach the group to every instance already carrying one of the target
	// tags. Instances launched later resolve their groups at launch by the
	// same tag filter (securityGroupsForTags).
	if err := p.attachToTaggedInstances(ctx, groupID, in.TargetTags); err != nil {
		return nil, err
	}

	return marshalOutputs(firewallOutputs{ID: groupID, Name: in.Name, TargetTags: in.TargetTags})
}

func (p *Provider) deleteFirewall(ctx context.Context, req *provider.DeleteRequest) error {
	var prior firewallOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if err := p.detachSecurityGroup(ctx, prior.ID); err != nil {
		return err
	}
	if _, err := p.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(prior.ID)}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete security group %s: %w", prior.ID, err)
	}
	return nil
}

// firewallTags marks the group with one bare tag key per target tag, the same
// convention instanceTags uses, so the group and its instances find each
// other by tag filter.
func firewallTags(in firewallInputs) []types.Tag {
	tags := nameTags(in.Name)
	for _, t := range in.TargetTags {
		tags = append(tags, types.Tag{Key: aws.String(t), Value: aws.String("")})
	}
	return tags
}

func ipPermissions(in firewallInputs) ([]types.IpPermission, error) {
	var ranges []types.IpRange
	for _, cidr := range in.SourceRanges {
		ranges = append(ranges, types.IpRange{CidrIp: aws.String(cidr)})
	}

	var perms []types.IpPermission
	for _, rule := range in.Allow {
		protocol := rule.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		for _, raw := range rule.Ports {
			port, err := portNumber(raw)
			if err != nil {
				return nil, fmt.Errorf("firewall %s: %w", in.Name, err)
			}
			perms = append(perms, types.IpPermission{
				IpProtocol: aws.String(protocol),
				FromPort:   aws.Int32(port),
				ToPort:     aws.Int32(port),
				IpRanges:   ranges,
			})
		}
	}
	return perms, nil
}

func portNumber(v any) (int32, error) {
	switch val := v.(type) {
	case float64:
		return int32(val), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("port %q is not numeric", val)
		}
		return int32(n), nil
	}
	return 0, fmt.Errorf("port %v is not numeric", v)
}

func (p *Provider) attachToTaggedInstances(ctx context.Context, groupID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	resp, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag-key"), Values: tags},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to look up tagged instances: %w", err)
	}

	for _, reservation := range resp.Reservations {
		for _, instance := range reservation.Instances {
			groups := []string{groupID}
			for _, g := range instance.SecurityGroups {
				groups = append(groups, aws.ToString(g.GroupId))
			}
			_, err := p.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
				InstanceId: instance.InstanceId,
				Groups:     groups,
			})
			if err != nil {
				return fmt.Errorf("failed to attach security group to %s: %w", aws.ToString(instance.InstanceId), err)
			}
		}
	}
	return nil
}

// detachSecurityGroup takes the group off every instance it is attached to so
// EC2 will allow the delete. An instance must keep at least one group, so a
// membership that would drop to zero falls back to the VPC default group.
func (p *Provider) detachSecurityGroup(ctx context.Context, groupID string) error {
	resp, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("instance.group-id"), Values: []string{groupID}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to look up instances attached to %s: %w", groupID, err)
	}

	for _, reservation := range resp.Reservations {
		for _, instance := range reservation.Instances {
			var groups []string
			for _, g := range instance.SecurityGroups {
				if id := aws.ToString(g.GroupId); id != groupID {
					groups = append(groups, id)
				}
			}
			if len(groups) == 0 {
				def, err := p.defaultSecurityGroup(ctx, aws.ToString(instance.VpcId))
				if err != nil {
					return err
				}
				groups = []string{def}
			}
			if _, err := p.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
				InstanceId: instance.InstanceId,
				Groups:     groups,
			}); err != nil {
				return fmt.Errorf("failed to detach security group from %s: %w", aws.ToString(instance.InstanceId), err)
			}
		}
	}
	return nil
}

func (p *Provider) defaultSecurityGroup(ctx context.Context, vpcID string) (string, error) {
	resp, err := p.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{"default"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up default security group for %s: %w", vpcID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return "", fmt.Errorf("no default security group in %s", vpcID)
	}
	return aws.ToString(resp.SecurityGroups[0].GroupId), nil
}
