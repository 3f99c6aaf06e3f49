package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-pipeline/internal/extract"
	"github.com/yourusername/pdf-pipeline/internal/render"
	"github.com/yourusername/pdf-pipeline/internal/tracker"
)

type stubQueue struct {
	lastUniqueID string
	failEnqueue  bool
}

func (q *stubQueue) EnqueueURL(ctx context.Context, downloadURL string, includeBase64 bool, uniqueID string) (*EnqueueInfo, error) {
	if q.failEnqueue {
		return nil, fmt.Errorf("queue unavailable")
	}
	q.lastUniqueID = uniqueID
	return &EnqueueInfo{JobID: "42", QueuePosition: 2, TotalJobs: 3}, nil
}

func (q *stubQueue) EnqueueLocalDirectory(ctx context.Context, directoryPath string, includeBase64 bool, uniqueID string) (*EnqueueInfo, error) {
	if q.failEnqueue {
		return nil, fmt.Errorf("queue unavailable")
	}
	q.lastUniqueID = uniqueID
	return &EnqueueInfo{JobID: "43", QueuePosition: 1, TotalJobs: 1}, nil
}

func (q *stubQueue) Snapshot(ctx context.Context) (*QueueSnapshot, error) {
	return &QueueSnapshot{Waiting: 4, Active: 1, Failed: 2}, nil
}

func newTestHandler(t *testing.T, gate *Gate) (*Handler, *memoryStatus, *stubQueue) {
	t.Helper()
	status := newMemoryStatus()
	queue := &stubQueue{}
	processor := newTestProcessor(
		&stubExtractor{result: &extract.Result{Chunks: []extract.Chunk{}}},
		&stubRenderer{pages: []render.PageImage{{PageNumber: 1}}},
		status, newFakeObjectStore(),
	)
	handler := NewHandler(processor, queue, status, gate, nil, log.New(io.Discard, "", 0))
	return handler, status, queue
}

func newTestRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestProcessDirectoryFromURLRequiresDownloadURL(t *testing.T) {
	handler, _, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	recorder := postJSON(router, "/process-directory-from-url", map[string]any{})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestProcessDirectoryFromURLQueuesWhenSlotsFull(t *testing.T) {
	gate := NewGate(1)
	gate.TryAcquire() // 即時処理枠を塞ぐ
	handler, status, queue := newTestHandler(t, gate)
	router := newTestRouter(handler)

	recorder := postJSON(router, "/process-directory-from-url", map[string]any{
		"downloadUrl": "https://example.com/archive.zip",
	})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "queued" {
		t.Errorf("expected queued status, got %v", body["status"])
	}
	if body["jobId"] != "42" {
		t.Errorf("expected job id in response, got %v", body["jobId"])
	}
	if body["queuePosition"] != float64(2) || body["totalJobs"] != float64(3) {
		t.Errorf("unexpected queue position fields: %v", body)
	}

	uniqueID, _ := body["uniqueId"].(string)
	if uniqueID == "" || queue.lastUniqueID != uniqueID {
		t.Errorf("unique id mismatch: response %q, enqueued %q", uniqueID, queue.lastUniqueID)
	}
	record, _ := status.GetStatus(context.Background(), uniqueID)
	if record == nil || record.Status != tracker.StatusQueued {
		t.Errorf("expected queued record, got %+v", record)
	}
}

func TestProcessLocalDirectoryStartsInline(t *testing.T) {
	dir := t.TempDir()
	writeTestPDF(t, dir, "doc.pdf")
	handler, status, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	recorder := postJSON(router, "/process-local-directory", map[string]any{
		"directoryPath": dir,
	})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "processing" {
		t.Errorf("expected processing status, got %v", body["status"])
	}

	uniqueID, _ := body["uniqueId"].(string)
	record, _ := status.GetStatus(context.Background(), uniqueID)
	if record == nil {
		t.Error("expected receipt to be recorded")
	}
}

func TestProcessLocalDirectoryRejectsMissingDirectory(t *testing.T) {
	handler, _, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	recorder := postJSON(router, "/process-local-directory", map[string]any{
		"directoryPath": "/nonexistent/path",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestFileStatusNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/file-status/unknown_1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

func TestFileStatusReturnsRecord(t *testing.T) {
	handler, status, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	status.MarkReceived(context.Background(), "doc.pdf", "doc_pdf_1")

	req := httptest.NewRequest(http.MethodGet, "/file-status/doc_pdf_1", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Status string              `json:"status"`
		Data   *tracker.FileRecord `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.Data == nil || body.Data.UniqueID != "doc_pdf_1" {
		t.Errorf("unexpected record payload: %+v", body.Data)
	}
}

func TestQueueStatusReportsGateAndQueue(t *testing.T) {
	gate := NewGate(3)
	gate.TryAcquire()
	handler, _, _ := newTestHandler(t, gate)
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/queue-status", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Queue            QueueSnapshot `json:"queue"`
		ActiveProcessing int           `json:"activeProcessing"`
		ProcessingLimit  int           `json:"processingLimit"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.Queue.Waiting != 4 || body.Queue.Active != 1 {
		t.Errorf("unexpected queue snapshot: %+v", body.Queue)
	}
	if body.ActiveProcessing != 1 || body.ProcessingLimit != 3 {
		t.Errorf("unexpected gate fields: %d/%d", body.ActiveProcessing, body.ProcessingLimit)
	}
}

func TestHealth(t *testing.T) {
	handler, _, _ := newTestHandler(t, NewGate(1))
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", recorder.Code)
	}
}
