// Package docker emulates the compute resource types on a local Docker
// daemon, which makes a full declaration testable without a cloud account.
// Networks become bridge networks, instances become containers, the static
// address and firewall are bookkeeping entries resolved against localhost.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
)

type Provider struct {
	client *client.Client

	// appPort is published from instance containers to the host.
	appPort string
}

func New() provider.Interface {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli

	p.appPort = settings["app_port"]
	if p.appPort == "" {
		p.appPort = "5050"
	}
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
	return nil, fmt.Errorf("docker provider does not support resource type %s", req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	switch req.Type {
	case ir.TypeNetwork:
		return p.deleteNetwork(ctx, req)
	case ir.TypeSubnetwork, ir.TypeAddress, ir.TypeFirewall:
		// Bookkeeping-only resources, nothing to tear down.
		return nil
	case ir.TypeInstance:
		return p.deleteInstance(ctx, req)
	}
	return fmt.Errorf("docker provider does not support resource type %s", req.Type)
}

type networkInputs struct {
	Name string `json:"name"`
}

type networkOutputs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) applyNetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in networkInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal network inputs: %w", err)
	}

	if req.PriorJSON != nil {
		var prior networkOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			return marshalOutputs(prior)
		}
	}

	resp, err := p.client.NetworkCreate(ctx, in.Name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	return marshalOutputs(networkOutputs{ID: resp.ID, Name: in.Name})
}

func (p *Provider) deleteNetwork(ctx context.Context, req *provider.DeleteRequest) error {
	var prior networkOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	if err := p.client.NetworkRemove(ctx, prior.ID); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove network: %w", err)
	}
	return nil
}

type subnetworkInputs struct {
	Name    string `json:"name"`
	Network string `json:"network"`
	Cidr    string `json:"cidr"`
}

// applySubnetwork records the declared range. Docker's bridge IPAM manages
// addressing itself, so the subnet exists only as a resolvable attribute set.
func (p *Provider) applySubnetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in subnetworkInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subnetwork inputs: %w", err)
	}
	return marshalOutputs(map[string]string{
		"id":      in.Network,
		"network": in.Network,
		"cidr":    in.Cidr,
	})
}

// applyAddress resolves every reserved address to the loopback interface,
// where the published container port is reachable.
func (p *Provider) applyAddress(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal address inputs: %w", err)
	}
	return marshalOutputs(map[string]string{
		"id":      "local-" + in.Name,
		"address": "127.0.0.1",
	})
}

// applyFirewall records the rule. The daemon's published-port model already
// admits the traffic the rule would allow.
func (p *Provider) applyFirewall(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal firewall inputs: %w", err)
	}
	return marshalOutputs(map[string]string{"id": "local-" + in.Name})
}

type instanceInputs struct {
	Name          string       `json:"name"`
	Image         string       `json:"image"`
	Network       string       `json:"network"`
	Accelerator   *accelerator `json:"guest_accelerator"`
	StartupScript string       `json:"startup_script"`
}

type accelerator struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type instanceOutputs struct {
	ID        string `json:"id"`
	PrivateIP string `json:"private_ip"`
	PublicIP  string `json:"public_ip"`
}

const defaultInstanceImage = "ubuntu:24.04"

func (p *Provider) applyInstance(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var in instanceInputs
	if err := json.Unmarshal(req.InputsJSON, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance inputs: %w", err)
	}
	if in.Image == "" {
		in.Image = defaultInstanceImage
	}

	// Containers are immutable, so an update removes the old one first.
	if req.PriorJSON != nil {
		var prior instanceOutputs
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			stopTimeout := 10
			_ = p.client.ContainerStop(ctx, prior.ID, container.StopOptions{Timeout: &stopTimeout})
			if err := p.client.ContainerRemove(ctx, prior.ID, container.RemoveOptions{Force: true}); err != nil {
				if !client.IsErrNotFound(err) {
					return nil, fmt.Errorf("failed to replace container: %w", err)
				}
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, in.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", in.Image, err)
	}
	io.Copy(os.Stdout, reader)
	reader.Close()

	port := nat.Port(p.appPort + "/tcp")
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: p.appPort}},
		},
	}
	if in.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(in.Network)
	}
	if in.Accelerator != nil && in.Accelerator.Count > 0 {
		hostConfig.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        in.Accelerator.Count,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	config := &container.Config{
		Image:        in.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	if in.StartupScript != "" {
		config.Cmd = []string{"/bin/bash", "-c", in.StartupScript}
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, in.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	out := instanceOutputs{ID: resp.ID, PublicIP: "127.0.0.1"}
	if inspect.NetworkSettings != nil {
		for _, endpoint := range inspect.NetworkSettings.Networks {
			out.PrivateIP = endpoint.IPAddress
			break
		}
	}
	return marshalOutputs(out)
}

func (p *Provider) deleteInstance(ctx context.Context, req *provider.DeleteRequest) error {
	var prior instanceOutputs
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil || prior.ID == "" {
		return nil
	}
	stopTimeout := 10
	_ = p.client.ContainerStop(ctx, prior.ID, container.StopOptions{Timeout: &stopTimeout})
	if err := p.client.ContainerRemove(ctx, prior.ID, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}
	return nil
}

func marshalOutputs(v any) (*provider.ApplyResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outputs: %w", err)
	}
	return &provider.ApplyResponse{OutputsJSON: data}, nil
}
