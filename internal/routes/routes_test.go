package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRegisterDispatchesAndRecordsMetadata(t *testing.T) {
	reg := NewRegistry()
	r := chi.NewRouter()

	called := false
	reg.Register(r, Route{
		Method:  http.MethodGet,
		Pattern: "/things/{thingId}",
		Handler: func(w http.ResponseWriter, _ *http.Request) { called = true },
		Meta: Meta{
			Group:       "things",
			Description: "Get a thing",
			Params:      []Param{{Name: "verbose", In: "query"}},
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))
	if !called {
		t.Fatalf("registered handler was not dispatched")
	}

	infos := reg.Routes()
	if len(infos) != 1 {
		t.Fatalf("expected 1 route, got %d", len(infos))
	}
	info := infos[0]
	if info.Method != http.MethodGet || info.Path != "/things/{thingId}" {
		t.Errorf("unexpected route info %+v", info)
	}
	if info.Group != "things" || info.Description != "Get a thing" {
		t.Errorf("metadata not recorded: %+v", info)
	}

	// Path params are extracted automatically; declared query params
	// are appended.
	var names []string
	for _, p := range info.Params {
		names = append(names, p.Name+":"+p.In)
	}
	want := []string{"thingId:path", "verbose:query"}
	if len(names) != len(want) {
		t.Fatalf("params %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("param %d: %s, want %s", i, names[i], want[i])
		}
	}
}

func TestWithPrefixSharesStorage(t *testing.T) {
	reg := NewRegistry()
	api := reg.WithPrefix("/api")
	r := chi.NewRouter()

	api.Register(r, Route{
		Method:  http.MethodPost,
		Pattern: "/things",
		Handler: func(http.ResponseWriter, *http.Request) {},
	})

	infos := reg.Routes()
	if len(infos) != 1 {
		t.Fatalf("prefixed registration should land in the parent registry, got %d routes", len(infos))
	}
	if infos[0].Path != "/api/things" {
		t.Errorf("path %q, want /api/things", infos[0].Path)
	}
}
