package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/intent-solutions-io/durable/job"
)

type runPayload struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got runPayload
	def := job.NewDefinition("run.start", func(_ context.Context, p runPayload) error {
		got = p
		return nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("run.start")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(runPayload{RepoURL: "https://example.com/repo.git", Branch: "main"})
	err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RepoURL != "https://example.com/repo.git" {
		t.Errorf("RepoURL = %q, want %q", got.RepoURL, "https://example.com/repo.git")
	}
	if got.Branch != "main" {
		t.Errorf("Branch = %q, want %q", got.Branch, "main")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered job type")
	}
}

func TestRegistry_Types(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("run.start", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("run.resume", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("repo.sync", func(_ context.Context, _ struct{}) error { return nil }))

	types := r.Types()
	sort.Strings(types)
	if len(types) != 3 {
		t.Fatalf("expected 3 types, got %d", len(types))
	}
	expected := []string{"repo.sync", "run.resume", "run.start"}
	for i, want := range expected {
		if types[i] != want {
			t.Errorf("types[%d] = %q, want %q", i, types[i], want)
		}
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-job", func(_ context.Context, _ runPayload) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	h, _ := r.Get("typed-job")
	err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-payload", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	}))

	h, _ := r.Get("no-payload")
	err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) error {
		return want
	}))

	h, _ := r.Get("failing")
	err := h(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) error {
		return errors.New("old")
	}))
	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) error {
		return errors.New("new")
	}))

	h, _ := r.Get("overwrite")
	err := h(context.Background(), nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}
