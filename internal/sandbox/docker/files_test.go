package docker

import (
	"archive/tar"
	"io"
	"testing"
)

func TestBuildTreeNesting(t *testing.T) {
	out := "d /workspace/src\n" +
		"d /workspace/src/components\n" +
		"f /workspace/src/components/App.jsx\n" +
		"f /workspace/src/index.js\n" +
		"f /workspace/package.json\n"

	tree := buildTree("/workspace", out)
	if len(tree) != 2 {
		t.Fatalf("expected src/ and package.json at top level, got %d entries", len(tree))
	}

	// Directories sort before files.
	src := tree[0]
	if src.Name != "src" || src.Type != "directory" {
		t.Fatalf("first entry should be the src directory, got %+v", src)
	}
	if tree[1].Name != "package.json" || tree[1].Type != "file" {
		t.Errorf("second entry should be package.json, got %+v", tree[1])
	}

	if len(src.Children) != 2 {
		t.Fatalf("src should have 2 children, got %d", len(src.Children))
	}
	if src.Children[0].Name != "components" {
		t.Errorf("components/ should sort before index.js, got %+v", src.Children[0])
	}
	if src.Children[0].Children[0].Path != "/workspace/src/components/App.jsx" {
		t.Errorf("unexpected leaf path %q", src.Children[0].Children[0].Path)
	}
}

func TestBuildTreeIgnoresJunkLines(t *testing.T) {
	out := "find: warning something\n" +
		"\n" +
		"f /workspace/ok.txt\n" +
		"x /workspace/bogus-tag\n"

	tree := buildTree("/workspace", out)
	if len(tree) != 1 || tree[0].Name != "ok.txt" {
		t.Fatalf("only the tagged line should survive, got %+v", tree)
	}
}

func TestBuildTreeEmptyOutput(t *testing.T) {
	if tree := buildTree("/workspace", ""); len(tree) != 0 {
		t.Errorf("empty listing should produce an empty tree, got %+v", tree)
	}
}

func TestFileArchiveLayout(t *testing.T) {
	archive, err := fileArchive("/workspace/src/deep/main.go", []byte("package main\n"))
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	tr := tar.NewReader(archive)
	var names []string
	var fileContent string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				t.Fatalf("read content: %v", err)
			}
			fileContent = string(data)
		}
	}

	// Parents root-first, the file last.
	want := []string{"workspace/", "workspace/src/", "workspace/src/deep/", "workspace/src/deep/main.go"}
	if len(names) != len(want) {
		t.Fatalf("archive entries %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d: %q, want %q", i, names[i], want[i])
		}
	}
	if fileContent != "package main\n" {
		t.Errorf("content round trip failed: %q", fileContent)
	}
}

func TestShellQuote(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "'plain'"},
		{"has space", "'has space'"},
		{"it's", `'it'\''s'`},
	}
	for _, tc := range cases {
		if got := shellQuote(tc.in); got != tc.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
