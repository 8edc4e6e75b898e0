// Package runtime wraps the Docker SDK client and provides the high-level container
// operations the orchestrator and reconciler need: pull, create, start, stop, remove,
// inspect, list-by-label, remove-image, prune. all Docker SDK calls are isolated here so
// no other package imports the Docker SDK directly -- if the container runtime strategy
// ever changed (eg a different engine, or a remote gRPC shim), only this package changes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockerSDKclient "github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with a logger. it is safe to share a single Client
// across goroutines: the SDK handles its own concurrency internally.
type Client struct {
	sdk    *dockerSDKclient.Client
	logger *slog.Logger
}

// NewClient connects to the Docker daemon using the standard environment-derived options
// (DOCKER_HOST / DOCKER_TLS_VERIFY / DOCKER_CERT_PATH, falling back to the default Unix
// socket) and negotiates the API version with the daemon. it pings immediately so startup
// fails fast if the daemon is unreachable -- the system cannot function without it.
func NewClient(logger *slog.Logger) (*Client, error) {
	sdkClient, err := dockerSDKclient.NewClientWithOpts(
		dockerSDKclient.FromEnv,
		dockerSDKclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker sdk client: %w", err)
	}

	client := &Client{sdk: sdkClient, logger: logger}

	pingContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.ping(pingContext); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("container runtime connected", "host", sdkClient.DaemonHost())
	return client, nil
}

func (c *Client) ping(ctx context.Context) error {
	_, err := c.sdk.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying Docker SDK client connection. should be deferred in
// main.go immediately after NewClient returns successfully.
func (c *Client) Close() error {
	return c.sdk.Close()
}
