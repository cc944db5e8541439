// Package importer drives the spreadsheet import pipeline: parse every
// uploaded file, normalize its rows, commit the resulting records in
// atomic write batches and recompute the affected period totals.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cartorio-systems/escriba/internal/domain"
	fstore "github.com/cartorio-systems/escriba/internal/firestore"
	"github.com/cartorio-systems/escriba/internal/normalize"
	"github.com/cartorio-systems/escriba/internal/parser"
	"github.com/cartorio-systems/escriba/internal/registry"
	"github.com/cartorio-systems/escriba/internal/streaming"
)

// Store is the slice of the Firestore client the importer writes to.
type Store interface {
	CreateRecordsBatch(ctx context.Context, records []*domain.ProcessRecord) error
	SaveImportSession(ctx context.Context, session *fstore.ImportSession) error
}

// Recomputer rebuilds totals after an import lands.
type Recomputer interface {
	RecomputePeriod(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error)
	RecomputeGlobal(ctx context.Context) (*domain.PeriodTotal, error)
}

// Broadcaster fans progress out to SSE clients.
type Broadcaster interface {
	Broadcast(sessionID string, event streaming.Event)
}

// File is one uploaded spreadsheet held in memory.
type File struct {
	Name        string
	Data        []byte
	PeriodLabel string
}

// Summary is the outcome of one import run.
type Summary struct {
	SessionID string   `json:"sessionId"`
	FileCount int      `json:"arquivos"`
	RowCount  int      `json:"linhas"`
	Imported  int      `json:"importados"`
	Failed    int      `json:"falhas"`
	Periods   []string `json:"periodos"`
	Warnings  []string `json:"avisos"`
	Errors    []string `json:"erros"`
}

// Importer wires the parse, normalize and persist stages together.
type Importer struct {
	registry   *registry.Registry
	normalizer *normalize.Normalizer
	store      Store
	totals     Recomputer
	hub        Broadcaster
	now        func() time.Time
}

// New creates an importer. hub may be nil when nobody streams.
func New(reg *registry.Registry, n *normalize.Normalizer, store Store, totals Recomputer, hub Broadcaster) *Importer {
	return &Importer{
		registry:   reg,
		normalizer: n,
		store:      store,
		totals:     totals,
		hub:        hub,
		now:        time.Now,
	}
}

// Preview parses and normalizes without writing anything. The dry-run
// flag of the CLI and the preview endpoint both land here.
func (i *Importer) Preview(ctx context.Context, files []File) (*Summary, []normalize.GroupResult, error) {
	summary := &Summary{FileCount: len(files)}
	var groups []normalize.GroupResult

	for _, f := range files {
		result, err := i.parseFile(ctx, f)
		if err != nil {
			return nil, nil, err
		}
		for _, g := range result.Groups {
			gr := i.normalizer.NormalizeGroup(g)
			summary.RowCount += len(gr.Rows)
			summary.Warnings = append(summary.Warnings, gr.Warnings...)
			for _, row := range gr.Rows {
				if row.OK() {
					summary.Imported++
				} else {
					summary.Failed++
					summary.Errors = append(summary.Errors, row.Errors...)
				}
				summary.Warnings = append(summary.Warnings, row.Warnings...)
			}
			groups = append(groups, gr)
		}
	}
	summary.Periods = periodsOf(groups)
	return summary, groups, nil
}

// Import runs the full pipeline. Records are committed in file order,
// in batches of up to the Firestore write limit; a failed batch stops
// the run and the summary reports what already landed.
func (i *Importer) Import(ctx context.Context, files []File) (*Summary, error) {
	sessionID := uuid.New().String()
	session := &fstore.ImportSession{
		ID:        sessionID,
		Status:    fstore.ImportSessionProcessing,
		FileCount: len(files),
		CreatedAt: i.now(),
	}
	if err := i.store.SaveImportSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating import session: %w", err)
	}

	summary := &Summary{SessionID: sessionID, FileCount: len(files)}
	i.broadcast(sessionID, streaming.NewSessionEvent(streaming.SessionEvent{
		ID: sessionID, Status: string(session.Status), FileCount: len(files),
	}))

	var records []*domain.ProcessRecord
	var groups []normalize.GroupResult
	for _, f := range files {
		result, err := i.parseFile(ctx, f)
		if err != nil {
			return i.fail(ctx, session, summary, f.Name, err)
		}
		i.broadcast(sessionID, streaming.NewFileEvent(streaming.FileEvent{
			SessionID: sessionID,
			FileName:  f.Name,
			Status:    "parsed",
			Groups:    len(result.Groups),
			Rows:      result.RowCount(),
		}))

		fileTotal := result.RowCount()
		fileStaged := 0
		for _, g := range result.Groups {
			gr := i.normalizer.NormalizeGroup(g)
			groups = append(groups, gr)
			summary.RowCount += len(gr.Rows)
			summary.Warnings = append(summary.Warnings, gr.Warnings...)

			for _, row := range gr.Rows {
				if len(row.Errors) > 0 || len(row.Warnings) > 0 {
					i.broadcast(sessionID, streaming.NewRowEvent(streaming.RowEvent{
						FileName: f.Name,
						Source:   gr.Source,
						Row:      row.RowNumber,
						Errors:   row.Errors,
						Warnings: row.Warnings,
					}))
				}
				summary.Warnings = append(summary.Warnings, row.Warnings...)
				if !row.OK() {
					summary.Failed++
					summary.Errors = append(summary.Errors, row.Errors...)
					i.stageProgress(sessionID, f.Name, &fileStaged, fileTotal)
					continue
				}

				if row.Draft.Ticket == "" {
					row.Draft.Ticket = generateTicket(i.now())
				}
				rec, err := row.Draft.Build(i.now())
				if err != nil {
					summary.Failed++
					summary.Errors = append(summary.Errors, fmt.Sprintf("%s linha %d: %v", f.Name, row.RowNumber, err))
					i.stageProgress(sessionID, f.Name, &fileStaged, fileTotal)
					continue
				}
				records = append(records, rec)
				i.stageProgress(sessionID, f.Name, &fileStaged, fileTotal)
			}
		}
	}
	summary.Periods = periodsOf(groups)

	if err := i.commit(ctx, sessionID, summary, records); err != nil {
		return i.fail(ctx, session, summary, "", err)
	}

	i.recomputeTotals(ctx, summary)

	now := i.now()
	session.Status = fstore.ImportSessionCompleted
	session.RowCount = summary.RowCount
	session.Imported = summary.Imported
	session.Failed = summary.Failed
	session.Warnings = summary.Warnings
	session.CompletedAt = &now
	if err := i.store.SaveImportSession(ctx, session); err != nil {
		log.Printf("ERROR: Failed to persist completed session %s: %v", sessionID, err)
	}

	i.broadcast(sessionID, streaming.NewCompleteEvent(streaming.SessionEvent{
		ID:          sessionID,
		Status:      string(session.Status),
		FileCount:   session.FileCount,
		Imported:    session.Imported,
		Failed:      session.Failed,
		CompletedAt: session.CompletedAt,
	}))
	return summary, nil
}

func (i *Importer) parseFile(ctx context.Context, f File) (*parser.FileResult, error) {
	header := f.Data
	if len(header) > 512 {
		header = header[:512]
	}
	p, err := i.registry.Find(f.Name, header)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, bytes.NewReader(f.Data), parser.Metadata{
		FileName:    f.Name,
		PeriodLabel: f.PeriodLabel,
	})
}

// commit writes records in chunks of the Firestore batch limit,
// preserving file order. A batch event is reported after every chunk.
func (i *Importer) commit(ctx context.Context, sessionID string, summary *Summary, records []*domain.ProcessRecord) error {
	total := len(records)
	for start := 0; start < total; start += fstore.MaxBatchSize {
		end := start + fstore.MaxBatchSize
		if end > total {
			end = total
		}
		if err := i.store.CreateRecordsBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("batch %d failed after %d records written: %w", start/fstore.MaxBatchSize+1, summary.Imported, err)
		}
		summary.Imported += end - start
		i.broadcast(sessionID, streaming.NewBatchEvent(streaming.BatchEvent{
			SessionID: sessionID,
			Batch:     start/fstore.MaxBatchSize + 1,
			Size:      end - start,
			Written:   summary.Imported,
		}))
	}
	return nil
}

// recomputeTotals rebuilds every period the import touched plus the
// global bucket. The records are already committed, so failures here
// degrade to warnings; the recalculation endpoint can repair totals.
func (i *Importer) recomputeTotals(ctx context.Context, summary *Summary) {
	for _, label := range summary.Periods {
		if _, err := i.totals.RecomputePeriod(ctx, label); err != nil {
			log.Printf("ERROR: Recomputing totals of %s: %v", label, err)
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("totalizador de %s não atualizado: %v", label, err))
		}
	}
	if _, err := i.totals.RecomputeGlobal(ctx); err != nil {
		log.Printf("ERROR: Recomputing global totals: %v", err)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("totalizador geral não atualizado: %v", err))
	}
}

func (i *Importer) fail(ctx context.Context, session *fstore.ImportSession, summary *Summary, fileName string, cause error) (*Summary, error) {
	now := i.now()
	session.Status = fstore.ImportSessionError
	session.RowCount = summary.RowCount
	session.Imported = summary.Imported
	session.Failed = summary.Failed
	session.Error = cause.Error()
	session.CompletedAt = &now
	if err := i.store.SaveImportSession(ctx, session); err != nil {
		log.Printf("ERROR: Failed to persist failed session %s: %v", session.ID, err)
	}
	i.broadcast(session.ID, streaming.NewErrorEvent(cause.Error(), fileName))
	return summary, cause
}

// stageProgress reports one more staged row of a file. Progress runs
// on staging, not on batch commits, so the stream moves row by row.
func (i *Importer) stageProgress(sessionID, fileName string, staged *int, total int) {
	*staged++
	i.broadcast(sessionID, streaming.NewProgressEvent(streaming.ProgressEvent{
		FileName:  fileName,
		Processed: *staged,
		Total:     total,
	}))
}

func (i *Importer) broadcast(sessionID string, event streaming.Event) {
	if i.hub != nil {
		i.hub.Broadcast(sessionID, event)
	}
}

// generateTicket mints a ticket for rows that arrived without one.
// Uniqueness rides on the millisecond timestamp plus a random suffix.
func generateTicket(now time.Time) string {
	return fmt.Sprintf("T%d%03d", now.UnixMilli(), rand.Intn(1000))
}

// periodsOf collects the distinct period labels of the parsed groups,
// sorted for stable output. Empty groups, like summary tabs, carry no
// importable rows and must not mint totals for their labels.
func periodsOf(groups []normalize.GroupResult) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, g := range groups {
		if g.PeriodLabel == "" || len(g.Rows) == 0 {
			continue
		}
		if _, ok := seen[g.PeriodLabel]; ok {
			continue
		}
		seen[g.PeriodLabel] = struct{}{}
		labels = append(labels, g.PeriodLabel)
	}
	sort.Strings(labels)
	return labels
}
