package docker

import (
	"context"
	"time"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// shellStream adapts a hijacked TTY exec connection to
// sandbox.ShellStream. With a TTY there is no stdout/stderr
// multiplexing, so reads come straight off the hijacked reader.
type shellStream struct {
	cli    client.APIClient
	execID string
	resp   types.HijackedResponse
	kill   func()
}

func (s *shellStream) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

func (s *shellStream) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

func (s *shellStream) Resize(ctx context.Context, cols, rows uint) error {
	return s.cli.ContainerExecResize(ctx, s.execID, containertypes.ResizeOptions{
		Width:  cols,
		Height: rows,
	})
}

func (s *shellStream) Close() error {
	s.resp.Close()
	// Detaching does not stop the shell process; reap it explicitly.
	s.kill()
	return nil
}

// OpenShell starts an interactive login shell in the container and
// returns its byte stream. Prefers bash when the image has it.
func (p *Provider) OpenShell(ctx context.Context, containerID string, cols, rows uint) (sandbox.ShellStream, error) {
	created, err := p.cli.ContainerExecCreate(ctx, containerID, containertypes.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", "exec bash -il 2>/dev/null || exec sh -il"},
		WorkingDir:   workspaceDir,
		Env:          []string{"TERM=xterm-256color"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify("open_shell", err)
	}

	resp, err := p.cli.ContainerExecAttach(ctx, created.ID, containertypes.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, classify("open_shell", err)
	}

	stream := &shellStream{
		cli:    p.cli,
		execID: created.ID,
		resp:   resp,
		kill:   func() { p.killExec(created.ID) },
	}

	if cols > 0 && rows > 0 {
		// Initial resize is best effort; the exec may still be starting.
		resizeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = stream.Resize(resizeCtx, cols, rows)
	}
	return stream, nil
}
