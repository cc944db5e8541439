// Package records is the interactive CRUD surface over deed-processing
// records. Every mutation appends to the record's embedded history,
// fires an audit entry and queues a totals recompute; the caller only
// waits for the record write itself.
package records

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cartorio-systems/escriba/internal/domain"
	"github.com/cartorio-systems/escriba/internal/money"
)

// Store is the record slice of the Firestore client.
type Store interface {
	GetRecords(ctx context.Context) ([]*domain.ProcessRecord, error)
	GetRecordsByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error)
	GetRecord(ctx context.Context, id string) (*domain.ProcessRecord, error)
	CreateRecord(ctx context.Context, rec *domain.ProcessRecord) (string, error)
	UpdateRecord(ctx context.Context, rec *domain.ProcessRecord) error
	DeleteRecord(ctx context.Context, id string) error
}

// TotalsQueue receives the periods whose totals need a recompute.
type TotalsQueue interface {
	Enqueue(periodLabel string)
}

// Auditor receives the office-wide audit trail.
type Auditor interface {
	Record(action, actor, recordID string, details map[string]interface{})
}

// Service wires record mutations to their side effects.
type Service struct {
	store  Store
	totals TotalsQueue
	audit  Auditor
	now    func() time.Time
}

// NewService creates a record service. audit may be nil in the CLI.
func NewService(store Store, totals TotalsQueue, audit Auditor) *Service {
	return &Service{store: store, totals: totals, audit: audit, now: time.Now}
}

// List returns every record, newest first.
func (s *Service) List(ctx context.Context) ([]*domain.ProcessRecord, error) {
	return s.store.GetRecords(ctx)
}

// ListByPeriod returns one period's records.
func (s *Service) ListByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error) {
	return s.store.GetRecordsByPeriod(ctx, periodLabel)
}

// Get returns one record by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.ProcessRecord, error) {
	return s.store.GetRecord(ctx, id)
}

// Create builds and stores a record from a draft. A missing ticket is
// minted as the next sequential number over the existing records.
func (s *Service) Create(ctx context.Context, draft *domain.RecordDraft, actor string) (*domain.ProcessRecord, error) {
	if draft.Ticket == "" {
		ticket, err := s.NextTicket(ctx)
		if err != nil {
			return nil, err
		}
		draft.Ticket = ticket
	}

	rec, err := draft.Build(s.now())
	if err != nil {
		return nil, err
	}
	rec.History = []domain.HistoryEntry{{
		ID:     uuid.New().String(),
		At:     rec.CreatedAt,
		Action: "criado",
		Actor:  actor,
	}}

	id, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	s.auditRecord("processo_criado", actor, id, map[string]interface{}{
		"talao":         rec.Ticket,
		"mesReferencia": rec.PeriodLabel,
	})
	s.totals.Enqueue(rec.PeriodLabel)
	return rec, nil
}

// Update overwrites a record with the draft's fields, preserving its
// creation time and history. Moving a record across periods queues a
// recompute of both the old and the new period.
func (s *Service) Update(ctx context.Context, id string, draft *domain.RecordDraft, actor string) (*domain.ProcessRecord, error) {
	old, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}

	updated, err := draft.Build(s.now())
	if err != nil {
		return nil, err
	}
	updated.ID = old.ID
	updated.CreatedAt = old.CreatedAt

	previous, next := diff(old, updated)
	updated.History = append(old.History, domain.HistoryEntry{
		ID:       uuid.New().String(),
		At:       updated.UpdatedAt,
		Action:   "atualizado",
		Actor:    actor,
		Previous: previous,
		Next:     next,
	})

	if err := s.store.UpdateRecord(ctx, updated); err != nil {
		return nil, fmt.Errorf("updating record %s: %w", id, err)
	}

	s.auditRecord("processo_atualizado", actor, id, next)
	s.totals.Enqueue(old.PeriodLabel)
	if updated.PeriodLabel != old.PeriodLabel {
		s.totals.Enqueue(updated.PeriodLabel)
	}
	return updated, nil
}

// Delete removes a record and queues its period for recompute.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	old, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("loading record %s: %w", id, err)
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}

	s.auditRecord("processo_excluido", actor, id, map[string]interface{}{
		"talao":         old.Ticket,
		"mesReferencia": old.PeriodLabel,
	})
	s.totals.Enqueue(old.PeriodLabel)
	return nil
}

var ticketPattern = regexp.MustCompile(`^T(\d+)$`)

// NextTicket mints the next sequential ticket over the records
// collection: one past the highest plain "T<n>" seen. Import-minted
// timestamp tickets are much larger and do not participate.
func (s *Service) NextTicket(ctx context.Context) (string, error) {
	all, err := s.store.GetRecords(ctx)
	if err != nil {
		return "", fmt.Errorf("scanning tickets: %w", err)
	}

	max := 0
	for _, rec := range all {
		m := ticketPattern.FindStringSubmatch(rec.Ticket)
		if m == nil || len(m[1]) > 6 {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("T%03d", max+1), nil
}

func (s *Service) auditRecord(action, actor, recordID string, details map[string]interface{}) {
	if s.audit != nil {
		s.audit.Record(action, actor, recordID, details)
	}
}

// diff collects the fields that changed between two versions, with
// monetary values rendered for the history view.
func diff(old, new *domain.ProcessRecord) (previous, next map[string]interface{}) {
	previous = make(map[string]interface{})
	next = make(map[string]interface{})

	set := func(field string, before, after interface{}) {
		if before != after {
			previous[field] = before
			next[field] = after
		}
	}
	set("talao", old.Ticket, new.Ticket)
	set("statusPagamento", string(old.PaymentStatus), string(new.PaymentStatus))
	set("statusEscritura", string(old.DeedStatus), string(new.DeedStatus))
	set("rgiEntrega", old.DeliveryRef, new.DeliveryRef)
	set("natureza", old.Nature, new.Nature)
	set("edificioAdquirenteResponsavel", old.Parties, new.Parties)
	set("valorEmolumentos", money.FormatCents(old.FeesCents), money.FormatCents(new.FeesCents))
	set("valorCorretor", money.FormatCents(old.BrokerCents), money.FormatCents(new.BrokerCents))
	set("valorAssessoria", money.FormatCents(old.AdvisoryCents), money.FormatCents(new.AdvisoryCents))
	set("numeroSicase", old.CaseNumber, new.CaseNumber)
	set("mesReferencia", old.PeriodLabel, new.PeriodLabel)
	return previous, next
}
