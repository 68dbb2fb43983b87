// Package mock provides an in-memory sandbox.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// Provider is an in-memory implementation of sandbox.Provider. Each
// created sandbox gets a fake container with its own filesystem map.
type Provider struct {
	mu        sync.Mutex
	sandboxes map[string]*sandbox.Sandbox
	files     map[string]map[string][]byte // containerID -> path -> content
	destroyed map[string]int
	execLog   []string
	shells    []*Shell
	execLocks *sandbox.KeyedLock

	// CreateErr, when set, is returned by Create to simulate provision
	// failures.
	CreateErr error

	// ExecFunc, when set, decides the result of every Exec call.
	ExecFunc func(containerID, command string) (*sandbox.ExecResult, error)

	// ExecDelay makes every Exec hold the container lock for the given
	// duration, for serialization tests.
	ExecDelay time.Duration
}

// NewProvider creates an empty mock provider.
func NewProvider() *Provider {
	return &Provider{
		sandboxes: make(map[string]*sandbox.Sandbox),
		files:     make(map[string]map[string][]byte),
		destroyed: make(map[string]int),
		execLocks: sandbox.NewKeyedLock(),
	}
}

func (p *Provider) Create(_ context.Context, projectID string) (*sandbox.Sandbox, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sb := &sandbox.Sandbox{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		ContainerID:  "mock-" + uuid.NewString()[:8],
		Status:       sandbox.StatusRunning,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
	}
	p.sandboxes[sb.ID] = sb
	p.files[sb.ContainerID] = make(map[string][]byte)
	return copySandbox(sb), nil
}

func (p *Provider) Get(_ context.Context, sandboxID string) (*sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[sandboxID]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "get", fmt.Errorf("sandbox %s", sandboxID))
	}
	return copySandbox(sb), nil
}

func (p *Provider) List(_ context.Context) ([]*sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*sandbox.Sandbox, 0, len(p.sandboxes))
	for _, sb := range p.sandboxes {
		out = append(out, copySandbox(sb))
	}
	return out, nil
}

func (p *Provider) Exec(ctx context.Context, containerID, command string, _ sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	lock := p.execLocks.Get(containerID)
	lock.Lock()
	defer lock.Unlock()

	if p.ExecDelay > 0 {
		select {
		case <-time.After(p.ExecDelay):
		case <-ctx.Done():
			return &sandbox.ExecResult{ExitCode: -1}, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return &sandbox.ExecResult{ExitCode: -1}, ctx.Err()
	}

	p.mu.Lock()
	p.execLog = append(p.execLog, command)
	fn := p.ExecFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(containerID, command)
	}
	return &sandbox.ExecResult{Stdout: "ok\n", ExitCode: 0}, nil
}

func (p *Provider) StartDetached(ctx context.Context, containerID, command string) (*sandbox.StartResult, error) {
	if _, err := p.Exec(ctx, containerID, command, sandbox.ExecOptions{}); err != nil {
		return nil, err
	}
	return &sandbox.StartResult{Ready: true, Output: "listening\n"}, nil
}

func (p *Provider) ReadFile(_ context.Context, containerID, filePath string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fs, ok := p.files[containerID]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "read_file", fmt.Errorf("container %s", containerID))
	}
	content, ok := fs[path.Clean(filePath)]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "read_file", fmt.Errorf("no file at %s", filePath))
	}
	return append([]byte(nil), content...), nil
}

func (p *Provider) WriteFile(_ context.Context, containerID, filePath string, content []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fs, ok := p.files[containerID]
	if !ok {
		return sandbox.NewError(sandbox.KindNotFound, "write_file", fmt.Errorf("container %s", containerID))
	}
	fs[path.Clean(filePath)] = append([]byte(nil), content...)
	return nil
}

func (p *Provider) ListFiles(_ context.Context, containerID, root string) ([]sandbox.FileEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fs, ok := p.files[containerID]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "list_files", fmt.Errorf("container %s", containerID))
	}
	if root == "" || root == "." {
		root = "/workspace"
	}

	// Flat mock tree: one entry per file under root, no nesting.
	var paths []string
	for fp := range fs {
		if strings.HasPrefix(fp, root+"/") {
			paths = append(paths, fp)
		}
	}
	sort.Strings(paths)
	entries := make([]sandbox.FileEntry, 0, len(paths))
	for _, fp := range paths {
		entries = append(entries, sandbox.FileEntry{
			Name: path.Base(fp),
			Path: fp,
			Type: "file",
		})
	}
	return entries, nil
}

func (p *Provider) Destroy(_ context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[sandboxID]
	if !ok {
		return nil
	}
	p.destroyed[sandboxID]++
	delete(p.sandboxes, sandboxID)
	delete(p.files, sb.ContainerID)
	return nil
}

func (p *Provider) Touch(sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sandboxes[sandboxID]; ok {
		sb.LastActiveAt = time.Now()
	}
}

func (p *Provider) ExecLocker(containerID string) sync.Locker {
	return p.execLocks.Get(containerID)
}

// Shell is the mock interactive shell: everything written to it is
// echoed back and recorded.
type Shell struct {
	mu     sync.Mutex
	input  []byte
	echo   chan []byte
	closed chan struct{}
	once   sync.Once

	Cols, Rows uint
}

func (s *Shell) Read(p []byte) (int, error) {
	select {
	case data := <-s.echo:
		return copy(p, data), nil
	case <-s.closed:
		return 0, fmt.Errorf("shell closed")
	}
}

func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.input = append(s.input, p...)
	s.mu.Unlock()
	select {
	case s.echo <- append([]byte(nil), p...):
	case <-s.closed:
	default:
	}
	return len(p), nil
}

func (s *Shell) Resize(_ context.Context, cols, rows uint) error {
	s.mu.Lock()
	s.Cols, s.Rows = cols, rows
	s.mu.Unlock()
	return nil
}

func (s *Shell) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Size returns the current pseudo-terminal dimensions.
func (s *Shell) Size() (cols, rows uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cols, s.Rows
}

// Input returns everything written to the shell so far.
func (s *Shell) Input() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.input...)
}

func (p *Provider) OpenShell(_ context.Context, containerID string, cols, rows uint) (sandbox.ShellStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.files[containerID]; !ok {
		return nil, sandbox.NewError(sandbox.KindNotFound, "open_shell", fmt.Errorf("container %s", containerID))
	}
	sh := &Shell{
		echo:   make(chan []byte, 64),
		closed: make(chan struct{}),
		Cols:   cols,
		Rows:   rows,
	}
	p.shells = append(p.shells, sh)
	return sh, nil
}

// Shells returns every shell opened so far.
func (p *Provider) Shells() []*Shell {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Shell(nil), p.shells...)
}

// ExecCalls returns the commands executed so far, in order.
func (p *Provider) ExecCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.execLog...)
}

// DestroyCount returns how many times Destroy removed the sandbox.
func (p *Provider) DestroyCount(sandboxID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed[sandboxID]
}

// SetLastActive backdates a sandbox's activity timestamp, for reaper
// tests.
func (p *Provider) SetLastActive(sandboxID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sandboxes[sandboxID]; ok {
		sb.LastActiveAt = at
	}
}

func copySandbox(sb *sandbox.Sandbox) *sandbox.Sandbox {
	cp := *sb
	return &cp
}
