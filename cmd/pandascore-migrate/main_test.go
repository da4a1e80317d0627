package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LucasCLuk/pandascore/internal/testutil"
	"github.com/LucasCLuk/pandascore/pkg/config"
	"github.com/LucasCLuk/pandascore/pkg/destination/redisdest"
	"github.com/LucasCLuk/pandascore/pkg/pipeline"
	"github.com/redis/go-redis/v9"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestStatusMux(t *testing.T) {
	blobs := &blobRoute{
		prefix: "/blobs",
		handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("blob:" + r.URL.Path))
		}),
	}
	srv := httptest.NewServer(newStatusMux(blobs))
	defer srv.Close()

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/health", http.StatusOK, "OK"},
		{"/metrics", http.StatusOK, "go_goroutines"},
		{"/blobs/leagues/1.png", http.StatusOK, "blob:/blobs/leagues/1.png"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body missing %q", tt.contains)
			}
		})
	}
}

func TestBlobPrefix(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080/blobs":  "/blobs",
		"http://localhost:8080/blobs/": "/blobs",
		"https://cdn.example.com":      "",
	}
	for in, want := range tests {
		if got := blobPrefix(in); got != want {
			t.Errorf("blobPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &pipeline.Summary{
		RunID: "run-1",
		Mode:  pipeline.ModeSequential,
		Collections: []pipeline.CollectionSummary{
			{Name: "leagues", Fetched: 3, Processed: 3},
			{Name: "teams", FetchErr: errors.New("status 500")},
		},
		Total:     3,
		Processed: 3,
		Manifests: []string{"links/leagues.txt"},
		Duration:  1500 * time.Millisecond,
	})

	out := buf.String()
	for _, want := range []string{"run-1", "leagues", "status 500", "wrote links/leagues.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFetchImagesCommand(t *testing.T) {
	mock := testutil.NewMockPandaScore()
	defer mock.Close()
	mock.SetImage("/images/league/4197/lec.png", []byte("lec"), 0)

	dir := t.TempDir()
	links := filepath.Join(dir, "links")
	os.MkdirAll(links, 0o755)
	os.WriteFile(filepath.Join(links, "leagues.txt"), []byte(mock.URL()+"/images/league/4197/lec.png\n"), 0o644)
	out := filepath.Join(dir, "images")

	var stdout bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetArgs([]string{"fetch-images", "--links-dir", links, "--images-dir", out})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("fetch-images failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "leagues", "4197.png"))
	if err != nil || string(data) != "lec" {
		t.Errorf("image = %q, %v", data, err)
	}
	if !strings.Contains(stdout.String(), "leagues: 1 downloaded") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestRunCommand_RequiresToken(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"run", "--token-file", filepath.Join(t.TempDir(), "missing.json")})

	err := root.ExecuteContext(context.Background())
	if !errors.Is(err, config.ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestRunCommand_RedisDestination(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 14})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	defer rdb.Close()
	rdb.FlushDB(ctx)

	mock := testutil.NewMockPandaScore()
	defer mock.Close()
	leagues := testutil.NewRecords(1, 2)
	leagues[0]["image_url"] = mock.URL() + "/images/league/1/logo.png"
	mock.SetCollection("/leagues", leagues)
	mock.SetImage("/images/league/1/logo.png", []byte("png"), 0)

	t.Setenv("PANDASCORE_API_BASE_URL", mock.URL())
	t.Setenv("PANDASCORE_REDIS_DB", "14")
	links := filepath.Join(t.TempDir(), "links")

	var stdout bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetArgs([]string{
		"run",
		"--token", "test-token",
		"--collections", "leagues",
		"--destination", "redis",
		"--redis-addr", "localhost:6379",
		"--links-dir", links,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	store, _ := redisdest.New(rdb, config.Default().PublicBaseURL)
	ids, err := store.DocumentIDs(ctx, "leagues")
	if err != nil || len(ids) != 2 {
		t.Errorf("stored ids = %v, %v", ids, err)
	}
	doc, err := store.Document(ctx, "leagues", "1")
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if doc["imageUrl"] != "http://localhost:8080/blobs/leagues/1.png" {
		t.Errorf("imageUrl = %#v", doc["imageUrl"])
	}
	if _, err := os.Stat(filepath.Join(links, "leagues.txt")); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
	if !strings.Contains(stdout.String(), "leagues") {
		t.Errorf("summary = %q", stdout.String())
	}
}
