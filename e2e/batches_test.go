package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

// createBatch uploads the named files and returns the new batch ID.
func createBatch(t *testing.T, ta *testApp, names ...string) string {
	t.Helper()

	req := audioRequest(t, "/api/batch-upload", "files", names...)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	batchID, _ := result["batch_id"].(string)
	if batchID == "" {
		t.Fatalf("no batch_id in response: %v", result)
	}
	return batchID
}

func TestBatchStatus_Success(t *testing.T) {
	ta := setupApp(t)
	batchID := createBatch(t, ta, "one.m4a", "two.mp3")

	resp := doRequest(t, ta.app, http.MethodGet, "/api/batches/"+batchID)
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "created" {
		t.Errorf("status = %v, want created", result["status"])
	}
	if result["total_files"] != float64(2) {
		t.Errorf("total_files = %v, want 2", result["total_files"])
	}
	files, ok := result["files"].([]interface{})
	if !ok || len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", result["files"])
	}
}

func TestBatchStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodGet, "/api/batches/no-such-batch")
	assertStatus(t, resp, http.StatusNotFound)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}

func TestBatchStatus_SurvivesRedisExpiry(t *testing.T) {
	ta := setupApp(t)
	batchID := createBatch(t, ta, "one.m4a")

	// Drop the live copy; the handler should fall back to history.
	ta.rdb.FlushAll(context.Background())

	resp := doRequest(t, ta.app, http.MethodGet, "/api/batches/"+batchID)
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["batch_id"] != batchID {
		t.Errorf("batch_id = %v, want %s", result["batch_id"], batchID)
	}
}

func TestBatchList_ReturnsBatches(t *testing.T) {
	ta := setupApp(t)
	createBatch(t, ta, "one.m4a")
	createBatch(t, ta, "two.m4a")

	resp := doRequest(t, ta.app, http.MethodGet, "/api/batches")
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	batches, ok := result["batches"].([]interface{})
	if !ok || len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %v", result["batches"])
	}
}

func TestBatchList_RejectsBadLimit(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodGet, "/api/batches?limit=500")
	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "VALIDATION_ERROR" {
		t.Errorf("error code = %s, want VALIDATION_ERROR", code)
	}
}

func TestBatchCancel_BeforeStart(t *testing.T) {
	ta := setupApp(t)
	batchID := createBatch(t, ta, "one.m4a", "two.m4a")

	resp := doRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/batches/%s/cancel", batchID))
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", result["status"])
	}
	if len(ta.insp.deleted) != 1 {
		t.Errorf("pending task deletions = %d, want 1", len(ta.insp.deleted))
	}

	// Queued files become skipped.
	statusResp := doRequest(t, ta.app, http.MethodGet, "/api/batches/"+batchID)
	statusResult := parseJSON(t, statusResp)
	files := statusResult["files"].([]interface{})
	for i, raw := range files {
		file := raw.(map[string]interface{})
		if file["status"] != "skipped" {
			t.Errorf("files[%d].status = %v, want skipped", i, file["status"])
		}
	}
}

func TestBatchCancel_AlreadyFinished(t *testing.T) {
	ta := setupApp(t)
	batchID := createBatch(t, ta, "one.m4a")

	resp := doRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/batches/%s/cancel", batchID))
	assertStatus(t, resp, http.StatusOK)

	again := doRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/batches/%s/cancel", batchID))
	assertStatus(t, again, http.StatusConflict)

	result := parseJSON(t, again)
	if code := errorCode(t, result); code != "CONFLICT" {
		t.Errorf("error code = %s, want CONFLICT", code)
	}
}

func TestBatchCancel_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodPost, "/api/batches/no-such-batch/cancel")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestHealth_MockEngine(t *testing.T) {
	ta := setupApp(t)

	resp := doRequest(t, ta.app, http.MethodGet, "/health")
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "ok" {
		t.Errorf("status = %v, want ok (mock mode ignores missing tools)", result["status"])
	}
	if result["engine"] != "mock" {
		t.Errorf("engine = %v, want mock", result["engine"])
	}
	checks := result["checks"].(map[string]interface{})
	if checks["redis"] != "ok" || checks["database"] != "ok" {
		t.Errorf("backing stores unhealthy: %v", checks)
	}
	if checks["whisper"] != "missing" {
		t.Errorf("whisper check = %v, want missing", checks["whisper"])
	}
}
