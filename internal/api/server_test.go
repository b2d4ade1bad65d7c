package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sagarneeli/mr-tracker/internal/coordinator"
	"github.com/sagarneeli/mr-tracker/internal/storage"
	"github.com/sagarneeli/mr-tracker/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, inputs map[string]string) (*httptest.Server, *storage.Local, context.Context) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range inputs {
		full := filepath.Join(store.Root(), filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewServer(ctx, store, testLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, store, ctx
}

func submit(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /jobs failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := setup(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	srv, _, _ := setup(t, nil)

	if resp := submit(t, srv, "not json"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad body, got %d", resp.StatusCode)
	}
	if resp := submit(t, srv, `{"id":"wc","nReduce":0}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero reducers, got %d", resp.StatusCode)
	}
	if resp := submit(t, srv, `{"id":"wc","nReduce":2}`); resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", resp.StatusCode)
	}
	if resp := submit(t, srv, `{"id":"wc","nReduce":2}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate job, got %d", resp.StatusCode)
	}

	resp := submit(t, srv, `{"nReduce":1}`)
	var created SubmitJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.JobID == "" {
		t.Error("Expected a generated job id")
	}

	list, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var ids []string
	if err := json.NewDecoder(list.Body).Decode(&ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 jobs, got %v", ids)
	}
}

func TestUnknownJob(t *testing.T) {
	srv, _, _ := setup(t, nil)
	for _, path := range []string{"/jobs/missing", "/jobs/missing/connect"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestWordCountEndToEnd(t *testing.T) {
	srv, store, ctx := setup(t, map[string]string{
		"wc/input/a.txt": "the quick fox\nthe lazy dog\n",
		"wc/input/b.txt": "the dog\n",
		"wc/input/c.txt": "fox\n",
	})
	if resp := submit(t, srv, `{"id":"wc","nReduce":3}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errc <- worker.Start(ctx, worker.Config{CoordinatorHost: u.Host, JobID: "wc", Logger: testLogger()})
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("worker failed: %v", err)
		}
	}

	resp, err := http.Get(srv.URL + "/jobs/wc")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st struct {
		Phase  string             `json:"phase"`
		Map    coordinator.Counts `json:"map"`
		Reduce coordinator.Counts `json:"reduce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Phase != "DONE" || st.Map.Complete != 3 {
		t.Errorf("unexpected status %+v", st)
	}

	entries, err := store.List("wc/output")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != st.Reduce.Complete {
		t.Errorf("expected one output file per reduce task, got %d files and %d tasks", len(entries), st.Reduce.Complete)
	}
	counts := make(map[string]string)
	for _, e := range entries {
		lines, err := store.ReadLines(e.Path)
		if err != nil {
			t.Fatal(err)
		}
		for _, line := range lines {
			k, v, _ := strings.Cut(line, "\t")
			if _, dup := counts[k]; dup {
				t.Errorf("key %q appears twice in output", k)
			}
			counts[k] = v
		}
	}
	want := map[string]string{"the": "3", "quick": "1", "fox": "2", "lazy": "1", "dog": "2"}
	if len(counts) != len(want) {
		t.Errorf("Expected %v, got %v", want, counts)
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("count for %q: expected %s, got %s", k, v, counts[k])
		}
	}
}
