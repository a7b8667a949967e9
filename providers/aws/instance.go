package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/terrapin-io/terrapin/internal/provider"
)

type instanceInputs struct {
	Name          string       `json:"name"`
	MachineType   string       `json:"machine_type"`
	Zone          string       `json:"zone"`
	Subnetwork    string       `json:"subnetwork"`
	Address       string       `json:"address"`
	BootDisk      *bootDisk    `json:"boot_disk"`
	Accelerator   *accelerator `json:"guest_accelerator"`
	NetworkTags   []string     `json:"network_tags"`
	StartupScript string       `json:"startup_script"`
}

type bootDisk struct {
	Image  string `json:"image"`
	SizeGB int    `json:"size_gb"`
}

// accelerator is accepted for declaration portability. On EC2 the GPU comes
// with the machine type, so the block is informational here; the docker
// provider maps it to device requests.
type accelerator struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type instanceOutputs struct {
	ID        string `json:"id"`
	PrivateIP string `json:"private_ip"`
	PublicIP  string `json:"public_ip"`
}

const instanceRunningTimeout = 5 * time.Minute

func (p *Provider) applyInstance(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in instanceInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance inputs: %w", err)
	}
	if in.Subnetwork == "" {
		return nil, fmt.Errorf("instance %s requires a subnetwork", req.Name)
	}
	if in.BootDisk == nil || in.BootDisk.Image == "" {
		return nil, fmt.Errorf("instance %s requires a boot_disk image", req.Name)
	}

	// User data and machine type are immutable after launch, so any change
	// to the inputs terminates the old instance and launches a fresh one.
	if req.PriorJSON != nil {
		var prior instanceOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
				InstanceIds: []string{prior.ID},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to replace instance %s: %w", prior.ID, err)
			}
			waiter := ec2.NewInstanceTerminatedWaiter(p.client)
			if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
				InstanceIds: []string{prior.ID},
			}, instanceRunningTimeout); err != nil {
				return nil, fmt.Errorf("failed to wait for %s to terminate: %w", prior.ID, err)
			}
		}
	}

	// Security groups whose target tags cover the instance's network tags
	// must be on the instance from launch, or their rules never admit
	// traffic to it.
	groupIDs, err := p.securityGroupsForTags(ctx, in.NetworkTags)
	if err != nil {
		return nil, err
	}

	runInput := &ec2.RunInstancesInput{
		ImageId:      aws.String(in.BootDisk.Image),
		InstanceType: types.InstanceType(in.MachineType),
		SubnetId:     aws.String(in.Subnetwork),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         instanceTags(in),
		}},
	}
	if len(groupIDs) > 0 {
		runInput.SecurityGroupIds = groupIDs
	}
	if in.Zone != "" {
		runInput.Placement = &types.Placement{AvailabilityZone: aws.String(in.Zone)}
	}
	if in.StartupScript != "" {
		runInput.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(in.StartupScript)))
	}
	if in.BootDisk.SizeGB > 0 {
		runInput.BlockDeviceMappings = []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &types.EbsBlockDevice{
				VolumeSize:          aws.Int32(int32(in.BootDisk.SizeGB)),
				VolumeType:          types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}

	resp, err := p.client.RunInstances(ctx, runInput)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return nil, fmt.Errorf("no instance launched for %s", req.Name)
	}
	instanceID := aws.ToString(resp.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, instanceRunningTimeout); err != nil {
		return nil, fmt.Errorf("failed to wait for instance running: %w", err)
	}

	if in.Address != "" {
		if _, err := p.client.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			AllocationId: aws.String(in.Address),
			InstanceId:   aws.String(instanceID),
		}); err != nil {
			return nil, fmt.Errorf("failed to associate address with %s: %w", instanceID, err)
		}
	}

	described, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	out := instanceOutputs{ID: instanceID}
	if len(described.Reservations) > 0 && len(described.Reservations[0].Instances) > 0 {
		inst := described.Reservations[0].Instances[0]
		out.PrivateIP = aws.ToString(inst.PrivateIpAddress)
		out.PublicIP = aws.ToString(inst.PublicIpAddress)
	}
	return marshalOutputs(out)
}

func (p *Provider) deleteInstance(ctx context.Context, req *provider.DeleteRequest) error {
	var prior instanceOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if _, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{prior.ID},
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to terminate instance %s: %w", prior.ID, err)
	}
	return nil
}

// instanceTags carries the Name tag plus one bare tag per network tag, which
// is what the firewall's tag filter matches on.
func instanceTags(in instanceInputs) []types.Tag {
	tags := nameTags(in.Name)
	for _, t := range in.NetworkTags {
		tags = append(tags, types.Tag{Key: aws.String(t), Value: aws.String("")})
	}
	return tags
}

// securityGroupsForTags finds the security groups tagged with any of the
// instance's network tags. Firewalls tag their groups this way (firewallTags)
// so the lookup pairs each instance with the rules scoped to it.
func (p *Provider) securityGroupsForTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	resp, err := p.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{{Name: aws.String("tag-key"), Values: tags}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up security groups for tags %v: %w", tags, err)
	}
	ids := make([]string, 0, len(resp.SecurityGroups))
	for _, g := range resp.SecurityGroups {
		ids = append(ids, aws.ToString(g.GroupId))
	}
	sort.Strings(ids)
	return ids, nil
}
