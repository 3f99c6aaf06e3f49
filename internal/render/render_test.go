package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sync/semaphore"

	"github.com/yourusername/pdf-pipeline/internal/workspace"
)

type fakeStore struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	failKeys map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploads:  make(map[string][]byte),
		failKeys: make(map[string]bool),
	}
}

func (f *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[key] {
		return errors.New("upload rejected")
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeStore) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://storage.example/" + key, nil
}

func newTestRenderer(t *testing.T, store ObjectStore, pages int) *Renderer {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	r := &Renderer{
		cfg:       Config{PageBatchSize: 2, Concurrency: 3},
		store:     store,
		workspace: ws,
		logger:    log.New(os.Stderr, "", 0),
		sem:       semaphore.NewWeighted(3),
	}
	r.rasterize = func(ctx context.Context, pdfPath, outDir string) (int, error) {
		for i := 1; i <= pages; i++ {
			name := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i))
			if err := os.WriteFile(name, []byte(fmt.Sprintf("png-%d", i)), 0o644); err != nil {
				return 0, err
			}
		}
		return pages, nil
	}
	return r
}

func writeTestPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRenderUploadsEveryPage(t *testing.T) {
	store := newFakeStore()
	r := newTestRenderer(t, store, 5)

	results, err := r.Render(context.Background(), writeTestPDF(t), "doc_1", false)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("result count = %d, want 5", len(results))
	}
	for i, page := range results {
		if page.PageNumber != i+1 {
			t.Errorf("results[%d].PageNumber = %d, want %d", i, page.PageNumber, i+1)
		}
		if page.Err != "" {
			t.Errorf("page %d carries error: %s", page.PageNumber, page.Err)
		}
		wantURL := fmt.Sprintf("https://storage.example/doc_1/page_%d.png", i+1)
		if page.ImageURL != wantURL {
			t.Errorf("page %d URL = %s, want %s", page.PageNumber, page.ImageURL, wantURL)
		}
	}
	if len(store.uploads) != 5 {
		t.Fatalf("uploaded %d objects, want 5", len(store.uploads))
	}
}

func TestRenderCapturesPartialPageFailure(t *testing.T) {
	store := newFakeStore()
	store.failKeys["doc_1/page_2.png"] = true
	r := newTestRenderer(t, store, 3)

	results, err := r.Render(context.Background(), writeTestPDF(t), "doc_1", false)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if results[1].Err == "" {
		t.Fatal("expected error captured for page 2")
	}
	if results[1].ImageURL != "" {
		t.Fatal("failed page should not carry a URL")
	}
	if results[0].Err != "" || results[2].Err != "" {
		t.Fatalf("unrelated pages failed: %+v", results)
	}
}

func TestRenderIncludesBase64WhenRequested(t *testing.T) {
	store := newFakeStore()
	r := newTestRenderer(t, store, 1)

	results, err := r.Render(context.Background(), writeTestPDF(t), "doc_1", true)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if results[0].Base64Data == "" {
		t.Fatal("expected base64 payload")
	}

	results, err = r.Render(context.Background(), writeTestPDF(t), "doc_2", false)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if results[0].Base64Data != "" {
		t.Fatal("base64 payload should be omitted by default")
	}
}

func TestRenderCleansScratchDirectory(t *testing.T) {
	store := newFakeStore()
	r := newTestRenderer(t, store, 2)

	if _, err := r.Render(context.Background(), writeTestPDF(t), "doc_1", false); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	entries, err := os.ReadDir(r.workspace.ProcessingDir())
	if err != nil {
		t.Fatalf("reading processing dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch directories left behind: %v", entries)
	}
}

func TestRenderFailsForMissingFile(t *testing.T) {
	r := newTestRenderer(t, newFakeStore(), 1)
	if _, err := r.Render(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), "doc_1", false); err == nil {
		t.Fatal("expected error for missing PDF")
	}
}
