package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/haasonsaas/toolmesh/internal/wire"
)

// ContainerImage installs a service by pulling a container image and
// creating (but not starting) a container from it, returning the
// container's ID in the Result. Nothing in procsup starts or stops the
// container, and Uninstall removes only the install directory
// (spec.md §6's container_image method).
type ContainerImage struct {
	Client *client.Client
}

func (c ContainerImage) dockerClient() (*client.Client, error) {
	if c.Client != nil {
		return c.Client, nil
	}
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func (c ContainerImage) Install(ctx context.Context, storageRoot string, desc wire.ServiceDescriptor, source string) (*Result, error) {
	if source == "" {
		return nil, fmt.Errorf("install: container_image method requires an image reference")
	}

	cli, err := c.dockerClient()
	if err != nil {
		return nil, fmt.Errorf("install: connect to container runtime: %w", err)
	}
	defer cli.Close()

	pullResp, err := cli.ImagePull(ctx, source, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("install: pull image %s: %w", source, err)
	}
	defer pullResp.Close()
	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return nil, fmt.Errorf("install: read pull response: %w", err)
	}

	containerName := "toolmesh-" + desc.ServiceID
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image: source,
	}, &container.HostConfig{
		NetworkMode: "bridge",
		AutoRemove:  false,
	}, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("install: create container for %s: %w", desc.ServiceID, err)
	}

	installDir := serviceInstallDir(storageRoot, desc.ServiceID)
	_, err = stageThenActivate(installDir, func(stageDir string) error {
		data, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(stageDir, "service.json"), data, 0o644)
	})
	if err != nil {
		_ = cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, err
	}

	return &Result{Descriptor: desc, InstallDir: installDir, ContainerID: created.ID, Installed: true}, nil
}

func (c ContainerImage) Uninstall(ctx context.Context, storageRoot string, serviceID string) error {
	if err := os.RemoveAll(serviceInstallDir(storageRoot, serviceID)); err != nil {
		return fmt.Errorf("install: remove install dir for %s: %w", serviceID, err)
	}
	return nil
}
