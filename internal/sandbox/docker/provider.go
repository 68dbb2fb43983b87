// Package docker implements the sandbox.Provider interface against a
// Docker daemon. Each sandbox is one container running the configured
// sandbox image with the project workspace at a fixed path.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	containertypes "github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

const (
	// workspaceDir is where the project lives inside every sandbox
	// container.
	workspaceDir = "/workspace"

	labelManaged = "liveforge.sandbox"
	labelProject = "liveforge.project.id"
	labelSandbox = "liveforge.sandbox.id"
)

// Provider implements sandbox.Provider against a Docker daemon.
type Provider struct {
	cli    client.APIClient
	logger *slog.Logger

	image       string
	previewPort int
	execTimeout time.Duration

	mu        sync.RWMutex
	sandboxes map[string]*sandbox.Sandbox

	execLocks *sandbox.KeyedLock
	pulled    sync.Once
	pullErr   error
}

// Options configures the provider.
type Options struct {
	// Image is the sandbox container image reference.
	Image string

	// PreviewPort is the container port published for dev servers.
	PreviewPort int

	// ExecTimeout is the default bound for shell commands.
	ExecTimeout time.Duration
}

// New creates a provider connected to the local Docker daemon.
func New(opts Options, logger *slog.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewWithClient(cli, opts, logger), nil
}

// NewWithClient creates a provider using an existing Docker client.
// Used by tests to inject a fake API client.
func NewWithClient(cli client.APIClient, opts Options, logger *slog.Logger) *Provider {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 2 * time.Minute
	}
	return &Provider{
		cli:         cli,
		logger:      logger.With("component", "docker_provider"),
		image:       opts.Image,
		previewPort: opts.PreviewPort,
		execTimeout: opts.ExecTimeout,
		sandboxes:   make(map[string]*sandbox.Sandbox),
		execLocks:   sandbox.NewKeyedLock(),
	}
}

// classify maps a Docker client error onto the sandbox error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return sandbox.NewError(sandbox.KindNotFound, op, err)
	case client.IsErrConnectionFailed(err):
		return sandbox.NewError(sandbox.KindRuntimeUnavailable, op, err)
	default:
		return fmt.Errorf("sandbox %s: %w", op, err)
	}
}

// ensureImage pulls the sandbox image once per process if it is not
// already present on the daemon.
func (p *Provider) ensureImage(ctx context.Context) error {
	p.pulled.Do(func() {
		_, err := p.cli.ImageInspect(ctx, p.image)
		if err == nil {
			return
		}
		if !errdefs.IsNotFound(err) {
			p.pullErr = err
			return
		}
		p.logger.Info("pulling sandbox image", "image", p.image)
		rc, err := p.cli.ImagePull(ctx, p.image, imagetypes.PullOptions{})
		if err != nil {
			p.pullErr = err
			return
		}
		defer rc.Close()
		// Drain the progress stream; the pull completes when it ends.
		_, p.pullErr = io.Copy(io.Discard, rc)
	})
	return p.pullErr
}

// Create provisions a new sandbox container for the project.
func (p *Provider) Create(ctx context.Context, projectID string) (*sandbox.Sandbox, error) {
	sb := &sandbox.Sandbox{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Status:       sandbox.StatusCreating,
		PreviewPort:  p.previewPort,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	p.mu.Lock()
	p.sandboxes[sb.ID] = sb
	p.mu.Unlock()

	if err := p.ensureImage(ctx); err != nil {
		p.dropSandbox(sb.ID)
		return nil, sandbox.NewError(sandbox.KindProvisionFailed, "create", err)
	}

	name := fmt.Sprintf("liveforge-sbx-%s", sb.ID[:8])
	port := nat.Port(fmt.Sprintf("%d/tcp", p.previewPort))

	containerConfig := &containertypes.Config{
		Image:      p.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: workspaceDir,
		Labels: map[string]string{
			labelManaged: "true",
			labelProject: projectID,
			labelSandbox: sb.ID,
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostConfig := &containertypes.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		p.dropSandbox(sb.ID)
		if client.IsErrConnectionFailed(err) {
			return nil, sandbox.NewError(sandbox.KindRuntimeUnavailable, "create", err)
		}
		return nil, sandbox.NewError(sandbox.KindProvisionFailed, "create", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		_ = p.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, containertypes.RemoveOptions{Force: true})
		p.dropSandbox(sb.ID)
		return nil, sandbox.NewError(sandbox.KindProvisionFailed, "create", err)
	}

	p.mu.Lock()
	sb.ContainerID = resp.ID
	sb.Status = sandbox.StatusRunning
	p.mu.Unlock()

	p.logger.Info("sandbox created",
		"sandbox_id", sb.ID,
		"project_id", projectID,
		"container_id", resp.ID[:12])
	return p.snapshot(sb), nil
}

// Get returns the sandbox with the given id.
func (p *Provider) Get(_ context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sb, ok := p.sandboxes[sandboxID]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "get", fmt.Errorf("sandbox %s", sandboxID))
	}
	return p.snapshotLocked(sb), nil
}

// List returns all live sandboxes.
func (p *Provider) List(_ context.Context) ([]*sandbox.Sandbox, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*sandbox.Sandbox, 0, len(p.sandboxes))
	for _, sb := range p.sandboxes {
		out = append(out, p.snapshotLocked(sb))
	}
	return out, nil
}

// Destroy stops and removes the sandbox container. Destroying a sandbox
// that is already gone is a no-op.
func (p *Provider) Destroy(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	sb, ok := p.sandboxes[sandboxID]
	if !ok || sb.Status == sandbox.StatusDestroyed {
		p.mu.Unlock()
		return nil
	}
	containerID := sb.ContainerID
	sb.Status = sandbox.StatusDestroyed
	p.mu.Unlock()

	if containerID != "" {
		// Hold the exec lock across removal so an in-flight command or
		// terminal write finishes before the container disappears, and
		// the lock entry is never dropped out from under a holder.
		// Callers that grab the lock afterwards find the container gone
		// and get NotFound, which Destroy's contract allows.
		lock := p.execLocks.Get(containerID)
		lock.Lock()
		err := p.cli.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			lock.Unlock()
			return classify("destroy", err)
		}
		p.execLocks.Forget(containerID)
		lock.Unlock()
	}

	p.mu.Lock()
	delete(p.sandboxes, sandboxID)
	p.mu.Unlock()

	p.logger.Info("sandbox destroyed", "sandbox_id", sandboxID)
	return nil
}

// Touch records activity so the idle reaper leaves the sandbox alone.
func (p *Provider) Touch(sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sandboxes[sandboxID]; ok {
		sb.LastActiveAt = time.Now()
	}
}

// ExecLocker returns the per-container exec serialization lock.
func (p *Provider) ExecLocker(containerID string) sync.Locker {
	return p.execLocks.Get(containerID)
}

func (p *Provider) dropSandbox(id string) {
	p.mu.Lock()
	delete(p.sandboxes, id)
	p.mu.Unlock()
}

func (p *Provider) snapshot(sb *sandbox.Sandbox) *sandbox.Sandbox {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked(sb)
}

// snapshotLocked copies the sandbox so callers never share the mutable
// registry entry. Caller holds p.mu.
func (p *Provider) snapshotLocked(sb *sandbox.Sandbox) *sandbox.Sandbox {
	cp := *sb
	return &cp
}
