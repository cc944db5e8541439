// Package firestore wraps the Firestore SDK with the office's
// collections: deed-processing records, period totals, audit entries
// and import sessions.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cartorio-systems/escriba/internal/domain"
)

const (
	recordsCollection  = "processos"
	totalsCollection   = "totalizadores"
	auditCollection    = "auditoria"
	sessionsCollection = "sessoesImportacao"
)

// MaxBatchSize is the Firestore WriteBatch operation limit.
const MaxBatchSize = 500

// Client wraps the Firestore client with record-keeping operations
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient initializes the Firebase app and derives Firestore and
// Auth clients from it. Credentials come from Application Default
// Credentials unless credsPath points at a service account file.
func NewClient(ctx context.Context, projectID, credsPath string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// GetRecords retrieves all records, newest first.
func (c *Client) GetRecords(ctx context.Context) ([]*domain.ProcessRecord, error) {
	iter := c.Firestore.Collection(recordsCollection).
		OrderBy("dataCriacao", firestore.Desc).
		Documents(ctx)
	return collectRecords(iter)
}

// GetRecordsByPeriod retrieves all records of one reference period.
// The ordering rides on the document name so the equality filter needs
// no composite index.
func (c *Client) GetRecordsByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error) {
	iter := c.Firestore.Collection(recordsCollection).
		Where("mesReferencia", "==", periodLabel).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Documents(ctx)
	return collectRecords(iter)
}

func collectRecords(iter *firestore.DocumentIterator) ([]*domain.ProcessRecord, error) {
	var records []*domain.ProcessRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate records: %w", err)
		}

		var rec domain.ProcessRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse record %s: %w", doc.Ref.ID, err)
		}
		rec.ID = doc.Ref.ID
		records = append(records, &rec)
	}
	return records, nil
}

// GetRecord retrieves one record by document ID.
func (c *Client) GetRecord(ctx context.Context, id string) (*domain.ProcessRecord, error) {
	doc, err := c.Firestore.Collection(recordsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, err
	}

	var rec domain.ProcessRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	rec.ID = doc.Ref.ID
	return &rec, nil
}

// CreateRecord stores a validated record under a generated document ID
// and returns that ID.
func (c *Client) CreateRecord(ctx context.Context, rec *domain.ProcessRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	ref, _, err := c.Firestore.Collection(recordsCollection).Add(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.ID = ref.ID
	return ref.ID, nil
}

// UpdateRecord overwrites an existing record document.
func (c *Client) UpdateRecord(ctx context.Context, rec *domain.ProcessRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no document ID")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	_, err := c.Firestore.Collection(recordsCollection).Doc(rec.ID).Set(ctx, rec)
	return err
}

// DeleteRecord removes a record document.
func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	_, err := c.Firestore.Collection(recordsCollection).Doc(id).Delete(ctx)
	return err
}

// CreateRecordsBatch stores up to MaxBatchSize records in one atomic
// WriteBatch. Either every record in the chunk lands or none does.
func (c *Client) CreateRecordsBatch(ctx context.Context, records []*domain.ProcessRecord) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds the %d write limit", len(records), MaxBatchSize)
	}

	batch := c.Firestore.Batch()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid record in batch: %w", err)
		}
		ref := c.Firestore.Collection(recordsCollection).NewDoc()
		rec.ID = ref.ID
		batch.Set(ref, rec)
	}
	_, err := batch.Commit(ctx)
	return err
}

// PeriodLabels returns the distinct reference periods present in the
// records collection, unordered.
func (c *Client) PeriodLabels(ctx context.Context) ([]string, error) {
	iter := c.Firestore.Collection(recordsCollection).
		Select("mesReferencia").
		Documents(ctx)

	seen := make(map[string]struct{})
	var labels []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate period labels: %w", err)
		}
		label, _ := doc.Data()["mesReferencia"].(string)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels, nil
}

// GetPeriodTotal retrieves the persisted total for one period label.
// A missing document comes back as (nil, nil).
func (c *Client) GetPeriodTotal(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error) {
	doc, err := c.Firestore.Collection(totalsCollection).Doc(periodLabel).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}

	var total domain.PeriodTotal
	if err := doc.DataTo(&total); err != nil {
		return nil, fmt.Errorf("failed to parse period total %s: %w", periodLabel, err)
	}
	return &total, nil
}

// SetPeriodTotal writes a period total wholesale. The document ID is
// the period label, so a recompute always lands on the same doc.
func (c *Client) SetPeriodTotal(ctx context.Context, total *domain.PeriodTotal) error {
	if total.PeriodLabel == "" {
		return fmt.Errorf("period total has no label")
	}
	_, err := c.Firestore.Collection(totalsCollection).Doc(total.PeriodLabel).Set(ctx, total)
	return err
}

// ListPeriodTotals retrieves every persisted period total, including
// the global one.
func (c *Client) ListPeriodTotals(ctx context.Context) ([]*domain.PeriodTotal, error) {
	iter := c.Firestore.Collection(totalsCollection).Documents(ctx)

	var totals []*domain.PeriodTotal
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate period totals: %w", err)
		}

		var total domain.PeriodTotal
		if err := doc.DataTo(&total); err != nil {
			return nil, fmt.Errorf("failed to parse period total %s: %w", doc.Ref.ID, err)
		}
		totals = append(totals, &total)
	}
	return totals, nil
}

// AuditEntry is one office-wide audit trail item, kept separate from
// the per-record embedded history.
type AuditEntry struct {
	ID       string                 `firestore:"id"`
	At       time.Time              `firestore:"data"`
	Action   string                 `firestore:"acao"`
	Actor    string                 `firestore:"usuario"`
	RecordID string                 `firestore:"processoId,omitempty"`
	Details  map[string]interface{} `firestore:"detalhes,omitempty"`
}

// AddAuditEntry appends one entry to the audit collection.
func (c *Client) AddAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("audit entry has no action")
	}
	_, _, err := c.Firestore.Collection(auditCollection).Add(ctx, entry)
	return err
}

// ImportSessionStatus represents the lifecycle of an import session
type ImportSessionStatus string

const (
	ImportSessionPending    ImportSessionStatus = "pending"
	ImportSessionProcessing ImportSessionStatus = "processing"
	ImportSessionCompleted  ImportSessionStatus = "completed"
	ImportSessionError      ImportSessionStatus = "error"
)

// ImportSession records one spreadsheet import run in Firestore.
type ImportSession struct {
	ID          string              `firestore:"id"`
	Status      ImportSessionStatus `firestore:"status"`
	FileCount   int                 `firestore:"arquivos"`
	RowCount    int                 `firestore:"linhas"`
	Imported    int                 `firestore:"importados"`
	Failed      int                 `firestore:"falhas"`
	Warnings    []string            `firestore:"avisos"`
	Error       string              `firestore:"erro,omitempty"`
	CreatedAt   time.Time           `firestore:"dataCriacao"`
	CompletedAt *time.Time          `firestore:"dataConclusao,omitempty"`
}

// Validate checks if the ImportSession has valid data
func (s *ImportSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	switch s.Status {
	case ImportSessionPending, ImportSessionProcessing, ImportSessionCompleted, ImportSessionError:
	default:
		return fmt.Errorf("invalid status: %s", s.Status)
	}
	if s.FileCount < 0 {
		return fmt.Errorf("file count cannot be negative")
	}
	return nil
}

// SaveImportSession creates or updates an import session document.
func (c *Client) SaveImportSession(ctx context.Context, session *ImportSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid import session: %w", err)
	}
	_, err := c.Firestore.Collection(sessionsCollection).Doc(session.ID).Set(ctx, session)
	return err
}

// GetImportSession retrieves an import session by ID.
func (c *Client) GetImportSession(ctx context.Context, id string) (*ImportSession, error) {
	doc, err := c.Firestore.Collection(sessionsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, err
	}

	var session ImportSession
	if err := doc.DataTo(&session); err != nil {
		return nil, fmt.Errorf("failed to parse import session: %w", err)
	}
	return &session, nil
}
