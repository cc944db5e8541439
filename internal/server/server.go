// Package server wires the back office together: Firestore client,
// parser registry, totalizer engine, audit sink and HTTP routes.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cartorio-systems/escriba/internal/audit"
	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/firestore"
	"github.com/cartorio-systems/escriba/internal/handlers"
	"github.com/cartorio-systems/escriba/internal/importer"
	"github.com/cartorio-systems/escriba/internal/metrics"
	"github.com/cartorio-systems/escriba/internal/middleware"
	"github.com/cartorio-systems/escriba/internal/normalize"
	"github.com/cartorio-systems/escriba/internal/parsers/csvfile"
	"github.com/cartorio-systems/escriba/internal/parsers/workbook"
	"github.com/cartorio-systems/escriba/internal/records"
	"github.com/cartorio-systems/escriba/internal/registry"
	"github.com/cartorio-systems/escriba/internal/rules"
	"github.com/cartorio-systems/escriba/internal/streaming"
	"github.com/cartorio-systems/escriba/internal/totals"
)

// Server represents the notary back office API server
type Server struct {
	fsClient *firestore.Client
	engine   *totals.Engine
	auditor  *audit.Sink
	mux      *http.ServeMux
	cancel   context.CancelFunc
}

// New creates a new server instance
func New(ctx context.Context, projectID, credsPath string) (*Server, error) {
	fsClient, err := firestore.NewClient(ctx, projectID, credsPath)
	if err != nil {
		return nil, err
	}

	table, err := columnmap.LoadEmbedded()
	if err != nil {
		fsClient.Close()
		return nil, fmt.Errorf("failed to load column table: %w", err)
	}
	ruleEngine, err := rules.LoadEmbedded()
	if err != nil {
		fsClient.Close()
		return nil, fmt.Errorf("failed to load status rules: %w", err)
	}

	reg := registry.New()
	reg.Register(csvfile.New(table))
	reg.Register(workbook.New(table))

	engine := totals.NewEngine(fsClient, fsClient)
	auditor := audit.NewSink(fsClient)

	bgCtx, cancel := context.WithCancel(context.Background())
	engine.Start(bgCtx)
	auditor.Start(bgCtx)
	go func() {
		// ends when Close stops the engine and the channel closes
		for err := range engine.Errors() {
			log.Printf("WARN: Totalizer recompute failed: %v", err)
		}
	}()

	s := &Server{
		fsClient: fsClient,
		engine:   engine,
		auditor:  auditor,
		mux:      http.NewServeMux(),
		cancel:   cancel,
	}

	recordService := records.NewService(fsClient, engine, auditor)
	metricsService := metrics.NewService(fsClient)
	hub := streaming.NewHub()
	imp := importer.New(reg, normalize.New(ruleEngine), fsClient, engine, hub)

	s.setupRoutes(recordService, metricsService, imp, hub)

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(recordService *records.Service, metricsService *metrics.Service, imp *importer.Importer, hub *streaming.Hub) {
	// Health check (no auth required)
	s.mux.HandleFunc("GET /health", handlers.HealthCheck)

	apiHandler := handlers.NewAPIHandler(recordService, metricsService, s.engine, s.fsClient)
	importHandler := handlers.NewImportHandlers(imp, hub)
	authMiddleware := middleware.NewAuthMiddleware(s.fsClient.Auth)

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.RequireAuth(h)
	}

	// Record CRUD
	s.mux.Handle("GET /api/processos", protect(apiHandler.ListRecords))
	s.mux.Handle("POST /api/processos", protect(apiHandler.CreateRecord))
	s.mux.Handle("GET /api/processos/{id}", protect(apiHandler.GetRecord))
	s.mux.Handle("PUT /api/processos/{id}", protect(apiHandler.UpdateRecord))
	s.mux.Handle("DELETE /api/processos/{id}", protect(apiHandler.DeleteRecord))

	// Periods, totals and dashboard
	s.mux.Handle("GET /api/meses", protect(apiHandler.ListPeriods))
	s.mux.Handle("GET /api/totalizadores/{mes}", protect(apiHandler.GetPeriodTotals))
	s.mux.Handle("POST /api/totalizadores/recalcular", protect(apiHandler.Recalculate))
	s.mux.Handle("GET /api/dashboard/{mes}", protect(apiHandler.GetDashboard))
	s.mux.Handle("GET /api/evolucao", protect(apiHandler.GetEvolution))

	// Import endpoints. The SSE stream is not behind auth because
	// EventSource cannot send an Authorization header; the session id
	// is an unguessable UUID issued by StartImport.
	s.mux.Handle("POST /api/import", protect(importHandler.StartImport))
	s.mux.Handle("POST /api/import/preview", protect(importHandler.PreviewImport))
	s.mux.HandleFunc("GET /api/import/{id}/stream", importHandler.StreamImport)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}

// Close stops the background workers and closes the Firestore client.
func (s *Server) Close() error {
	s.engine.Stop()
	s.auditor.Stop()
	s.cancel()
	return s.fsClient.Close()
}
