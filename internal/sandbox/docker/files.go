package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// maxTreeDepth bounds workspace listings so pathological trees cannot
// blow up a response.
const maxTreeDepth = 6

// treePruneDirs are directory names excluded from workspace listings.
var treePruneDirs = []string{".git", "node_modules"}

// ReadFile transfers a file out of the container via the archive API.
func (p *Provider) ReadFile(ctx context.Context, containerID, filePath string) ([]byte, error) {
	rc, _, err := p.cli.CopyFromContainer(ctx, containerID, filePath)
	if err != nil {
		return nil, classify("read_file", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sandbox read_file: read archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("sandbox read_file: read content: %w", err)
			}
			return content, nil
		}
	}
	return nil, sandbox.NewError(sandbox.KindNotFound, "read_file",
		fmt.Errorf("no regular file at %s", filePath))
}

// WriteFile transfers content into the container via the archive API.
// Parent directories are created from tar directory headers, so no exec
// (and no exec lock) is needed.
func (p *Provider) WriteFile(ctx context.Context, containerID, filePath string, content []byte) error {
	archive, err := fileArchive(filePath, content)
	if err != nil {
		return fmt.Errorf("sandbox write_file: %w", err)
	}
	err = p.cli.CopyToContainer(ctx, containerID, "/", archive, containertypes.CopyToContainerOptions{})
	return classify("write_file", err)
}

// fileArchive builds a tar stream containing the file plus directory
// headers for every parent, rooted at /.
func fileArchive(filePath string, content []byte) (io.Reader, error) {
	clean := path.Clean("/" + filePath)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	// Emit parents root-first so extraction creates them in order.
	var parents []string
	for dir := path.Dir(clean); dir != "/" && dir != "."; dir = path.Dir(dir) {
		parents = append(parents, dir)
	}
	for i := len(parents) - 1; i >= 0; i-- {
		hdr := &tar.Header{
			Name:     strings.TrimPrefix(parents[i], "/") + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
			ModTime:  now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
	}

	hdr := &tar.Header{
		Name:     strings.TrimPrefix(clean, "/"),
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  now,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// ListFiles walks the workspace inside the container and returns a
// depth-bounded tree. Uses a portable find invocation (no GNU printf)
// so it works in minimal images.
func (p *Provider) ListFiles(ctx context.Context, containerID, root string) ([]sandbox.FileEntry, error) {
	if root == "" || root == "." {
		root = workspaceDir
	}
	prune := make([]string, 0, len(treePruneDirs))
	for _, d := range treePruneDirs {
		prune = append(prune, fmt.Sprintf("-name %s", d))
	}
	pruneExpr := strings.Join(prune, " -o ")
	find := func(typeExpr, tag string) string {
		return fmt.Sprintf("find %s -mindepth 1 -maxdepth %d \\( %s \\) -prune -o %s -print | sed 's|^|%s |'",
			shellQuote(root), maxTreeDepth, pruneExpr, typeExpr, tag)
	}
	cmd := find("-type d", "d") + "; " + find("! -type d", "f")

	res, err := p.Exec(ctx, containerID, cmd, sandbox.ExecOptions{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, sandbox.NewError(sandbox.KindNotFound, "list_files",
			fmt.Errorf("list %s: %s", root, strings.TrimSpace(res.Stderr)))
	}
	return buildTree(root, res.Stdout), nil
}

// buildTree converts "d path" / "f path" lines into a nested FileEntry
// tree relative to root.
func buildTree(root, out string) []sandbox.FileEntry {
	type node struct {
		entry    sandbox.FileEntry
		children map[string]*node
		order    []string
	}
	top := &node{children: make(map[string]*node)}

	insert := func(rel, typ string) {
		parts := strings.Split(rel, "/")
		cur := top
		for i, part := range parts {
			child, ok := cur.children[part]
			if !ok {
				entryType := "directory"
				if i == len(parts)-1 && typ == "f" {
					entryType = "file"
				}
				child = &node{
					entry: sandbox.FileEntry{
						Name: part,
						Path: path.Join(root, strings.Join(parts[:i+1], "/")),
						Type: entryType,
					},
					children: make(map[string]*node),
				}
				cur.children[part] = child
				cur.order = append(cur.order, part)
			}
			cur = child
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 3 || (line[0] != 'd' && line[0] != 'f') || line[1] != ' ' {
			continue
		}
		full := line[2:]
		rel := strings.TrimPrefix(strings.TrimPrefix(full, root), "/")
		if rel == "" {
			continue
		}
		insert(rel, string(line[0]))
	}

	var flatten func(n *node) []sandbox.FileEntry
	flatten = func(n *node) []sandbox.FileEntry {
		names := append([]string(nil), n.order...)
		// Directories first, then files, alphabetical within each group.
		sort.SliceStable(names, func(i, j int) bool {
			a, b := n.children[names[i]], n.children[names[j]]
			if a.entry.Type != b.entry.Type {
				return a.entry.Type == "directory"
			}
			return names[i] < names[j]
		})
		out := make([]sandbox.FileEntry, 0, len(names))
		for _, name := range names {
			child := n.children[name]
			e := child.entry
			if e.Type == "directory" {
				e.Children = flatten(child)
			}
			out = append(out, e)
		}
		return out
	}
	return flatten(top)
}
