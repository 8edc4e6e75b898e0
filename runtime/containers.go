package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerSpec is the input to CreateContainer. grouping these fields in a struct keeps
// the function signature stable as more options are added, matching the teacher's
// NginxContainerConfigArgs / RunEphemeralBuildContainerConfig convention.
type ContainerSpec struct {
	// Name is the Docker container name, produced by naming.ContainerName.
	Name string

	// Image is the fully qualified image tag to run. it must already have been pulled via
	// PullImage -- CreateContainer does not pull.
	Image string

	// Env is a list of "KEY=VALUE" strings, already magic-variable-resolved by the caller.
	Env []string

	// Labels carries the edge-router label map from edgerouter.Labels, plus the
	// management labels (managed/preview/service/owner) the reconciler's orphan sweep
	// depends on.
	Labels map[string]string

	// Port is the container-internal port the service listens on (default 8080, applied
	// by the caller before this struct is built).
	Port int

	// Network is the Docker network name the edge router and every preview container
	// share, so the edge router can resolve the container's internal address.
	Network string
}

// PullImage streams pull progress to onProgress (one call per log line of the JSON
// progress stream) and returns once the pull completes or fails. an image tag that does
// not exist upstream is a fatal error. onProgress may be nil, in which case progress is
// drained and discarded -- mirroring the teacher's pullImageIfNotPresent, generalized
// here to forward progress instead of silently discarding it, since the orchestrator
// emits a `build` lifecycle event per progress chunk (SPEC_FULL.md §4.5 step 7).
func (c *Client) PullImage(ctx context.Context, tag string, onProgress func(line string)) error {
	c.logger.Info("pulling container image", "image", tag)

	stream, err := c.sdk.ImagePull(ctx, tag, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to initiate image pull for %q: %w", tag, err)
	}
	defer stream.Close()

	if onProgress == nil {
		if _, err := io.Copy(io.Discard, stream); err != nil {
			return fmt.Errorf("failed to stream image pull response for %q: %w", tag, err)
		}
		c.logger.Info("image pulled", "image", tag)
		return nil
	}

	decoder := newLineDecoder(stream)
	for {
		line, err := decoder.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to stream image pull response for %q: %w", tag, err)
		}
		onProgress(line)
	}

	c.logger.Info("image pulled", "image", tag)
	return nil
}

// CreateContainer creates (but does not start) a container from spec. network, restart
// policy, and label attachment follow the teacher's CreateAndStartNginxContainer
// precedent: the network is attached at creation time (not after start) to avoid the
// edge router discovering the container before it has an address on the shared network,
// and restart policy is unless-stopped so a host reboot does not require redeploying
// every preview.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	internalConfig := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}

	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	networkingConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {},
		},
	}

	var platform *v1.Platform = nil

	resp, err := c.sdk.ContainerCreate(ctx, internalConfig, hostConfig, networkingConfig, platform, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %q: %w", spec.Name, err)
	}

	c.logger.Info("container created", "container_id", shortID(resp.ID), "container_name", spec.Name)
	return resp.ID, nil
}

// StartContainer transitions a created container to running.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.sdk.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %q: %w", containerID, err)
	}
	return nil
}

// StopContainer sends SIGTERM (then SIGKILL after graceSeconds) to the container
// process. not-found and already-stopped are both treated as success, matching the
// idempotent "already achieved the desired state" posture of the teacher's
// StopAndRemoveContainer.
func (c *Client) StopContainer(ctx context.Context, containerID string, graceSeconds int) error {
	err := c.sdk.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("failed to stop container %q: %w", containerID, err)
	}
	return nil
}

// RemoveContainer deletes a container and its writable layer. not-found is success.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := c.sdk.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("failed to remove container %q: %w", containerID, err)
	}
	return nil
}

// InspectStatus returns the runtime-reported state string (eg "running", "exited",
// "created") for a container.
func (c *Client) InspectStatus(ctx context.Context, containerID string) (string, error) {
	info, err := c.sdk.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %q: %w", containerID, err)
	}
	if info.State == nil {
		return "", nil
	}
	return info.State.Status, nil
}

// ListByLabel returns every container (running or stopped) carrying the given label key,
// optionally further narrowed to a specific value. used by the reconciler's orphan sweep
// to find every container this system manages (key="managed", value="true"); the sweep
// then reads each container's "preview" label from the returned summaries.
func (c *Client) ListByLabel(ctx context.Context, key, value string) ([]ContainerSummary, error) {
	labelFilter := key
	if value != "" {
		labelFilter = key + "=" + value
	}
	listFilters := filters.NewArgs(filters.Arg("label", labelFilter))

	containers, err := c.sdk.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers by label %q: %w", labelFilter, err)
	}

	summaries := make([]ContainerSummary, 0, len(containers))
	for _, entry := range containers {
		summaries = append(summaries, ContainerSummary{
			ID:     entry.ID,
			Names:  entry.Names,
			Labels: entry.Labels,
			State:  entry.State,
		})
	}
	return summaries, nil
}

// ContainerSummary is the subset of Docker's container-list entry this system consumes.
type ContainerSummary struct {
	ID     string
	Names  []string
	Labels map[string]string
	State  string
}

// RemoveImage removes an image by tag. not-found is success, mirroring the idempotency
// contract of RemoveContainer.
func (c *Client) RemoveImage(ctx context.Context, tag string, force bool) error {
	_, err := c.sdk.ImageRemove(ctx, tag, image.RemoveOptions{Force: force})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("failed to remove image %q: %w", tag, err)
	}
	return nil
}

// Prune removes stopped containers, dangling images, and unused volumes. this is an
// opt-in operation (SPEC_FULL.md §4.7), never called automatically by the reconciler's
// default tick.
func (c *Client) Prune(ctx context.Context) error {
	if _, err := c.sdk.ContainersPrune(ctx, filters.NewArgs()); err != nil {
		return fmt.Errorf("container prune failed: %w", err)
	}
	if _, err := c.sdk.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true"))); err != nil {
		return fmt.Errorf("image prune failed: %w", err)
	}
	if _, err := c.sdk.VolumesPrune(ctx, filters.NewArgs()); err != nil {
		return fmt.Errorf("volume prune failed: %w", err)
	}
	return nil
}

// buildMounts is shared by any future caller needing a single read-only or read-write
// bind mount -- kept as a small helper in the teacher's style of factoring out one-line
// mount-slice construction rather than inlining it at every call site.
func buildMounts(hostDir, containerDir string, readOnly bool) []mount.Mount {
	return []mount.Mount{
		{Type: mount.TypeBind, Source: hostDir, Target: containerDir, ReadOnly: readOnly},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// isNotFoundErr treats any error the Docker SDK classifies as not-found (a missing
// container or image) as the idempotent not-found case rather than a real failure, using
// the SDK's typed IsErrNotFound check rather than matching error message strings.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	return dockerSDKclient.IsErrNotFound(err)
}
