package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cartorio-systems/escriba/internal/importer"
	"github.com/cartorio-systems/escriba/internal/normalize"
	"github.com/cartorio-systems/escriba/internal/streaming"
)

// maxUploadBytes bounds one multipart import request.
const maxUploadBytes = 100 << 20

// ImportService is the pipeline surface the import handlers call.
type ImportService interface {
	Import(ctx context.Context, files []importer.File) (*importer.Summary, error)
	Preview(ctx context.Context, files []importer.File) (*importer.Summary, []normalize.GroupResult, error)
}

// ImportHandlers handles spreadsheet import requests
type ImportHandlers struct {
	service ImportService
	hub     *streaming.Hub
}

// NewImportHandlers creates a new import handlers instance
func NewImportHandlers(service ImportService, hub *streaming.Hub) *ImportHandlers {
	return &ImportHandlers{service: service, hub: hub}
}

// StartImport handles POST /api/import. Files are read into memory and
// processed in the background; the response carries the summary once
// the run finishes. Clients wanting progress follow the SSE stream.
func (h *ImportHandlers) StartImport(w http.ResponseWriter, r *http.Request) {
	files, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Import(r.Context(), files)
	if err != nil {
		status := http.StatusUnprocessableEntity
		payload := map[string]interface{}{"error": err.Error()}
		if summary != nil {
			payload["resumo"] = summary
		}
		writeJSON(w, status, payload)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// PreviewImport handles POST /api/import/preview. Nothing is written;
// the response shows what an import would do.
func (h *ImportHandlers) PreviewImport(w http.ResponseWriter, r *http.Request) {
	files, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, groups, err := h.service.Preview(r.Context(), files)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resumo": summary,
		"grupos": groups,
	})
}

// StreamImport handles GET /api/import/{id}/stream as Server-Sent
// Events. EventSource cannot send an Authorization header, so this
// endpoint relies on the session ID being an unguessable UUID.
func (h *ImportHandlers) StreamImport(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.Register(r.Context(), sessionID)
	defer h.hub.Unregister(sessionID, client)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			writeSSE(w, streaming.NewHeartbeatEvent())
			flusher.Flush()
		case event, open := <-client.Events:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Type.Critical() {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event streaming.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: Failed to marshal SSE event %s: %v", event.Type, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}

// readUpload extracts the uploaded spreadsheets from a multipart form.
// An optional mesReferencia form value overrides period inference for
// every file.
func readUpload(r *http.Request) ([]importer.File, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form")
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, fmt.Errorf("no files uploaded")
	}
	periodLabel := r.FormValue("mesReferencia")

	files := make([]importer.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		files = append(files, importer.File{
			Name:        fh.Filename,
			Data:        data,
			PeriodLabel: periodLabel,
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
