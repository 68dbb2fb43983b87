package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/liveforge-dev/liveforge/internal/config"
	"github.com/liveforge-dev/liveforge/internal/events"
	"github.com/liveforge-dev/liveforge/internal/filetree"
	"github.com/liveforge-dev/liveforge/internal/generation"
	"github.com/liveforge-dev/liveforge/internal/model"
	mocksandbox "github.com/liveforge-dev/liveforge/internal/sandbox/mock"
	"github.com/liveforge-dev/liveforge/internal/store"
	"github.com/liveforge-dev/liveforge/internal/terminal"
)

const testProjectID = "test-project"

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return store.New(db)
}

// newTestHandler wires a handler with real services over the mock
// sandbox provider.
func newTestHandler(t *testing.T, s *store.Store, provider *mocksandbox.Provider) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Port:           8090,
		DatabaseDriver: "sqlite",
		SandboxImage:   "node:22-bookworm-slim",
		PreviewPort:    3000,
		LogFormat:      "text",
		LogLevel:       "info",
	}
	tree := filetree.New(provider)
	broker := events.NewBroker()
	executor := generation.NewExecutor(provider, tree,
		func() time.Duration { return time.Minute }, logger)
	manager := generation.NewManager(s, provider, executor, broker,
		func() int { return 16 }, logger)
	bridge := terminal.NewBridge(provider, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close(ctx)
		bridge.Close()
		broker.Close()
	})
	return New(cfg, s, manager, provider, tree, bridge, broker, logger)
}

func doJSON(t *testing.T, h http.Handler, method, target, userID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGenerationEndToEnd(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range []generation.Event{
		{ArtifactID: "a1", Title: "Landing page", Action: &generation.Action{
			Type: generation.ActionFile, FilePath: "/workspace/index.html", Content: "<h1>hi</h1>",
		}},
		{ArtifactID: "a1", Action: &generation.Action{
			Type: generation.ActionShell, Command: "npm install",
		}},
		{ArtifactID: "a1", Close: true},
	} {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}

	rec := doJSON(t, router, http.MethodPost,
		"/api/projects/"+testProjectID+"/generations", "alice", body.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var snap generation.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.Status != model.GenerationStatusCompleted {
		t.Errorf("status %s, want completed (reason %q)", snap.Status, snap.Reason)
	}
	if len(snap.Cards) != 1 || snap.Cards[0].FilesCreated != 1 {
		t.Errorf("unexpected cards %+v", snap.Cards)
	}

	// The finished run is retrievable by id from the store.
	rec = doJSON(t, router, http.MethodGet, "/api/generations/"+snap.GenerationID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateGenerationRejectsMalformedStream(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	rec := doJSON(t, router, http.MethodPost,
		"/api/projects/"+testProjectID+"/generations", "alice", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelEndpointIsPredicate(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/generations/nope/cancel", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp["cancelled"] {
		t.Errorf("cancel of unknown generation must report false")
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/generations/nope", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestFileEndpoints(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	sb, err := provider.Create(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("failed to create sandbox: %v", err)
	}

	// Write.
	body, _ := json.Marshal(map[string]string{
		"path":    "/workspace/notes.md",
		"content": "# notes",
	})
	rec := doJSON(t, router, http.MethodPut,
		"/api/sandboxes/"+sb.ID+"/files/write", "alice", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("write status %d: %s", rec.Code, rec.Body.String())
	}
	var writeResp struct {
		Created bool `json:"created"`
	}
	json.Unmarshal(rec.Body.Bytes(), &writeResp)
	if !writeResp.Created {
		t.Errorf("first write should report created")
	}

	// Read back.
	rec = doJSON(t, router, http.MethodGet,
		"/api/sandboxes/"+sb.ID+"/files/read?path=/workspace/notes.md", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status %d: %s", rec.Code, rec.Body.String())
	}
	var readResp struct {
		Content string `json:"content"`
	}
	json.Unmarshal(rec.Body.Bytes(), &readResp)
	if readResp.Content != "# notes" {
		t.Errorf("read back %q", readResp.Content)
	}

	// Tree.
	rec = doJSON(t, router, http.MethodGet,
		"/api/sandboxes/"+sb.ID+"/files", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d: %s", rec.Code, rec.Body.String())
	}

	// Overwrite, then diff.
	body, _ = json.Marshal(map[string]string{
		"path":    "/workspace/notes.md",
		"content": "# notes v2",
	})
	rec = doJSON(t, router, http.MethodPut,
		"/api/sandboxes/"+sb.ID+"/files/write", "alice", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("overwrite status %d: %s", rec.Code, rec.Body.String())
	}
	var overwriteResp struct {
		Created bool `json:"created"`
	}
	json.Unmarshal(rec.Body.Bytes(), &overwriteResp)
	if overwriteResp.Created {
		t.Errorf("overwrite of an existing file should not report created")
	}

	rec = doJSON(t, router, http.MethodGet,
		"/api/sandboxes/"+sb.ID+"/diff?path=/workspace/notes.md", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("diff status %d: %s", rec.Code, rec.Body.String())
	}
	var diff filetree.Diff
	if err := json.Unmarshal(rec.Body.Bytes(), &diff); err != nil {
		t.Fatalf("decode diff failed: %v", err)
	}
	// The diff baseline is the content before the first write of the
	// session. This path did not exist then, so the diff reports a
	// created file with an empty before.
	if diff.Before != "" || diff.After != "# notes v2" || !diff.Created {
		t.Errorf("unexpected diff %+v", diff)
	}

	// Missing file maps to 404.
	rec = doJSON(t, router, http.MethodGet,
		"/api/sandboxes/"+sb.ID+"/files/read?path=/workspace/nope", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("read of missing file: status %d, want 404", rec.Code)
	}

	// Destroy twice; both succeed.
	for i := 0; i < 2; i++ {
		rec = doJSON(t, router, http.MethodDelete, "/api/sandboxes/"+sb.ID, "alice", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("destroy attempt %d: status %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("unexpected status payload %v", resp)
	}
}

func TestRoutesEndpoint(t *testing.T) {
	s := setupTestStore(t)
	provider := mocksandbox.NewProvider()
	h := newTestHandler(t, s, provider)
	router := h.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/routes", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var routeList []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &routeList); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(routeList) == 0 {
		t.Fatalf("routes endpoint returned nothing")
	}
	seen := map[string]bool{}
	for _, rt := range routeList {
		seen[rt["method"].(string)+" "+rt["path"].(string)] = true
	}
	if !seen["POST /api/projects/{projectId}/generations"] {
		t.Errorf("generation route missing from registry: %v", seen)
	}
}
