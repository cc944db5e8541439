package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartorio-systems/escriba/internal/importer"
	"github.com/cartorio-systems/escriba/internal/normalize"
	"github.com/cartorio-systems/escriba/internal/streaming"
)

type mockImportService struct {
	files   []importer.File
	summary *importer.Summary
	err     error
}

func (m *mockImportService) Import(_ context.Context, files []importer.File) (*importer.Summary, error) {
	m.files = files
	return m.summary, m.err
}

func (m *mockImportService) Preview(_ context.Context, files []importer.File) (*importer.Summary, []normalize.GroupResult, error) {
	m.files = files
	return m.summary, nil, m.err
}

func multipartRequest(t *testing.T, target, periodLabel string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if periodLabel != "" {
		require.NoError(t, w.WriteField("mesReferencia", periodLabel))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestStartImport(t *testing.T) {
	svc := &mockImportService{summary: &importer.Summary{SessionID: "s-1", Imported: 2}}
	h := NewImportHandlers(svc, streaming.NewHub())

	req := multipartRequest(t, "/api/import", "AGOSTO - 2025", map[string]string{
		"agosto.csv": "RGI,Natureza\n1,2\n",
	})
	rec := httptest.NewRecorder()
	h.StartImport(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, svc.files, 1)
	assert.Equal(t, "agosto.csv", svc.files[0].Name)
	assert.Equal(t, "AGOSTO - 2025", svc.files[0].PeriodLabel)

	var got importer.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "s-1", got.SessionID)
}

func TestStartImportNoFiles(t *testing.T) {
	h := NewImportHandlers(&mockImportService{}, streaming.NewHub())

	req := multipartRequest(t, "/api/import", "", nil)
	rec := httptest.NewRecorder()
	h.StartImport(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartImportFailureCarriesPartialSummary(t *testing.T) {
	svc := &mockImportService{
		summary: &importer.Summary{SessionID: "s-2", Imported: 500},
		err:     fmt.Errorf("batch 2 failed"),
	}
	h := NewImportHandlers(svc, streaming.NewHub())

	req := multipartRequest(t, "/api/import", "", map[string]string{"a.csv": "x"})
	rec := httptest.NewRecorder()
	h.StartImport(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "batch 2 failed")
	assert.Contains(t, rec.Body.String(), "s-2")
}

func TestPreviewImport(t *testing.T) {
	svc := &mockImportService{summary: &importer.Summary{RowCount: 3, Imported: 2, Failed: 1}}
	h := NewImportHandlers(svc, streaming.NewHub())

	req := multipartRequest(t, "/api/import/preview", "", map[string]string{"a.csv": "x"})
	rec := httptest.NewRecorder()
	h.PreviewImport(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resumo")
}

func TestStreamImportDeliversEvents(t *testing.T) {
	hub := streaming.NewHub()
	h := NewImportHandlers(&mockImportService{}, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/import/s-1/stream", nil).WithContext(ctx)
	req.SetPathValue("id", "s-1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.StreamImport(rec, req)
		close(done)
	}()

	// wait for the client to register, then emit a terminal event
	require.Eventually(t, func() bool { return hub.IsRunning("s-1") }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast("s-1", streaming.NewCompleteEvent(streaming.SessionEvent{ID: "s-1", Status: "completed"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not finish after terminal event")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"status":"completed"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
