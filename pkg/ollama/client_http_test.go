package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/config"
	"github.com/b0r1v0j3/workers-united/pkg/ollama"
)

func newClient(t *testing.T, srv *httptest.Server, cfg config.OllamaConfig) *ollama.Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	client, err := ollama.NewClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_ListModelsAndHealth_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"models":[{"name":"llava:13b","size":42}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newClient(t, srv, config.OllamaConfig{})

	ctx := context.Background()
	models, err := client.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llava:13b" || models[0].Size != 42 {
		t.Fatalf("unexpected models: %#v", models)
	}

	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestClient_Health_NoModels_Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/tags" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newClient(t, srv, config.OllamaConfig{})
	if err := client.Health(context.Background()); err == nil {
		t.Fatalf("expected Health to fail when no models returned")
	}
}

func TestClient_Generate_ConcatenatesStream(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		writeSequence(w, []map[string]any{
			{"model": "llava", "response": `{"approved":`, "done": false},
			{"model": "llava", "response": ` true}`, "done": true},
		}, 5*time.Millisecond)
	}))
	defer srv.Close()

	client := newClient(t, srv, config.OllamaConfig{})
	res, err := client.Generate(context.Background(), ollama.GenerateRequest{
		Model:  "llava",
		Prompt: "check the passport",
		Format: "json",
		Images: [][]byte{[]byte("fake-jpeg")},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != `{"approved": true}` {
		t.Fatalf("unexpected Generate.Text: %q", res.Text)
	}
	if res.Meta["model"] != "llava" {
		t.Fatalf("unexpected meta: %#v", res.Meta)
	}
	if got["format"] != "json" {
		t.Fatalf("format not sent: %#v", got["format"])
	}
	if imgs, ok := got["images"].([]any); !ok || len(imgs) != 1 {
		t.Fatalf("images not sent: %#v", got["images"])
	}
}

func TestClient_Generate_Non200_Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newClient(t, srv, config.OllamaConfig{})
	if _, err := client.Generate(context.Background(), ollama.GenerateRequest{Prompt: "p"}); err == nil {
		t.Fatalf("expected Generate to fail on non-200")
	}
}

func TestClient_Generate_MalformedJSON_Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{ this is : not json `))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newClient(t, srv, config.OllamaConfig{})
	_, err := client.Generate(context.Background(), ollama.GenerateRequest{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "generate") {
		t.Fatalf("expected Generate to fail on malformed JSON, got %v", err)
	}
}
