package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

const (
	// devServerLog is where detached dev-server output is collected
	// inside the container.
	devServerLog = "/tmp/liveforge-dev.log"

	// readinessGrace is how long StartDetached waits for the preview
	// port to be bound before giving up on the readiness signal.
	readinessGrace = 15 * time.Second

	readinessProbeInterval = 500 * time.Millisecond
)

// Exec runs a command inside the container and blocks until completion
// or timeout. Calls against the same container are serialized.
func (p *Provider) Exec(ctx context.Context, containerID, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	lock := p.execLocks.Get(containerID)
	lock.Lock()
	defer lock.Unlock()
	return p.execLocked(ctx, containerID, command, opts)
}

// execLocked runs one command assuming the caller already holds the
// container's exec lock.
func (p *Provider) execLocked(ctx context.Context, containerID, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.execTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = workspaceDir
	}

	created, err := p.cli.ContainerExecCreate(ctx, containerID, containertypes.ExecOptions{
		Cmd:          []string{"/bin/sh", "-lc", command},
		WorkingDir:   workDir,
		Env:          opts.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify("exec", err)
	}

	attach, err := p.cli.ContainerExecAttach(execCtx, created.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return nil, classify("exec", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case <-execCtx.Done():
		// The exec process does not die when we detach, so kill it
		// explicitly to bind its lifetime to the cancellation token.
		p.killExec(created.ID)
		res := &sandbox.ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, sandbox.NewError(sandbox.KindTimedOut, "exec",
				fmt.Errorf("command exceeded %s", timeout))
		}
		return res, ctx.Err()
	case err := <-copied:
		if err != nil {
			return nil, classify("exec", err)
		}
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, classify("exec", err)
	}
	return &sandbox.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// killExec terminates the process behind an exec instance. Best effort:
// the container may already be gone.
func (p *Provider) killExec(execID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inspect, err := p.cli.ContainerExecInspect(ctx, execID)
	if err != nil || !inspect.Running || inspect.Pid == 0 {
		return
	}
	kill := fmt.Sprintf("kill -9 -%d 2>/dev/null || kill -9 %d", inspect.Pid, inspect.Pid)
	created, err := p.cli.ContainerExecCreate(ctx, inspect.ContainerID, containertypes.ExecOptions{
		Cmd:    []string{"/bin/sh", "-c", kill},
		Detach: true,
	})
	if err != nil {
		return
	}
	if err := p.cli.ContainerExecStart(ctx, created.ID, containertypes.ExecStartOptions{Detach: true}); err != nil {
		p.logger.Warn("failed to kill exec process", "exec_id", execID, "error", err)
	}
}

// StartDetached launches a long-running process without waiting for it
// to exit, then probes the preview port until it is bound or the grace
// period elapses. Absence of readiness is reported, not treated as a
// failure.
func (p *Provider) StartDetached(ctx context.Context, containerID, command string) (*sandbox.StartResult, error) {
	launch := fmt.Sprintf("rm -f %[1]s; nohup /bin/sh -lc %[2]s >>%[1]s 2>&1 & echo $!",
		devServerLog, shellQuote(command))
	res, err := p.Exec(ctx, containerID, launch, sandbox.ExecOptions{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("sandbox start: launch failed: %s", strings.TrimSpace(res.Stderr))
	}

	result := &sandbox.StartResult{Ready: p.waitForPort(ctx, containerID)}

	// Collect whatever the process has written so far for display.
	tail, err := p.Exec(ctx, containerID,
		fmt.Sprintf("tail -c 4096 %s 2>/dev/null || true", devServerLog),
		sandbox.ExecOptions{Timeout: 10 * time.Second})
	if err == nil {
		result.Output = tail.Stdout
	}
	return result, nil
}

// waitForPort polls /proc/net/tcp inside the container for a listener
// on the preview port. Works in any image; no netstat or nc required.
func (p *Provider) waitForPort(ctx context.Context, containerID string) bool {
	probe := fmt.Sprintf("grep -qi ':%04X' /proc/net/tcp /proc/net/tcp6 2>/dev/null", p.previewPort)
	deadline := time.Now().Add(readinessGrace)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		res, err := p.Exec(ctx, containerID, probe, sandbox.ExecOptions{Timeout: 5 * time.Second})
		if err == nil && res.ExitCode == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readinessProbeInterval):
		}
	}
	return false
}

// shellQuote wraps s in single quotes, escaping embedded quotes, so it
// survives a shell round trip intact.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
