package browser

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/google/uuid"

	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
)

const browserlessPort = "3000/tcp"

// DockerLauncher starts one browserless Chrome container per engine
type DockerLauncher struct {
	client *client.Client
	image  string
}

func NewDockerLauncher(image string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerLauncher{
		client: cli,
		image:  image,
	}, nil
}

func (d *DockerLauncher) Launch(ctx context.Context) (*Instance, error) {
	name := "chart-renderer-" + uuid.New().String()[:8]

	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"managed-by": "chart-renderer",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			browserlessPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			browserlessPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	inst := &Instance{
		release: func(ctx context.Context) error {
			return d.stop(ctx, resp.ID)
		},
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.releaseQuietly(inst)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.releaseQuietly(inst)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[browserlessPort]
	if len(bindings) == 0 {
		d.releaseQuietly(inst)
		return nil, fmt.Errorf("container %s exposes no CDP port", resp.ID[:12])
	}

	controlURL, err := waitForBrowserReady(ctx, "127.0.0.1:"+bindings[0].HostPort)
	if err != nil {
		d.releaseQuietly(inst)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}
	inst.ControlURL = controlURL

	logger.WithField("container", resp.ID[:12]).Debugf("browserless container ready at %s", controlURL)
	return inst, nil
}

func (d *DockerLauncher) stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

func (d *DockerLauncher) releaseQuietly(inst *Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := inst.Release(ctx); err != nil {
		logger.WithError(err).Warnf("failed to clean up browser container")
	}
}

// EnsureImage pulls the browser image unless it is already present
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls /json/version until Chrome answers and returns
// its websocket debugger URL.
func waitForBrowserReady(ctx context.Context, hostPort string) (string, error) {
	const maxRetries = 20

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		u, err := launcher.ResolveURL(hostPort)
		if err == nil {
			return u, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return "", fmt.Errorf("browser did not become ready after %d retries: %w", maxRetries, lastErr)
}
