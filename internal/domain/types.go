package domain

import (
	"fmt"
	"time"
)

// PaymentStatus represents the payment workflow state of a deed record.
// Values match the labels the office staff use, so they double as display
// strings. Use ValidatePaymentStatus to ensure validity before use.
type PaymentStatus string

const (
	PaymentPaid       PaymentStatus = "Pago"
	PaymentToGenerate PaymentStatus = "A gerar"
	PaymentGenerated  PaymentStatus = "Gerado"
	PaymentNotSent    PaymentStatus = "Não enviado"
)

// DeedStatus represents how far the deed itself has progressed.
// Use ValidateDeedStatus to ensure validity before use.
type DeedStatus string

const (
	DeedReady      DeedStatus = "Pronta"
	DeedSigned     DeedStatus = "Lavrada"
	DeedInProgress DeedStatus = "Em tramitação"
	DeedSent       DeedStatus = "Enviada"
	DeedInventory  DeedStatus = "Inventário"
	DeedNotSent    DeedStatus = "Não enviado"
)

var (
	validPaymentStatuses = map[PaymentStatus]struct{}{
		PaymentPaid: {}, PaymentToGenerate: {}, PaymentGenerated: {}, PaymentNotSent: {},
	}

	validDeedStatuses = map[DeedStatus]struct{}{
		DeedReady: {}, DeedSigned: {}, DeedInProgress: {},
		DeedSent: {}, DeedInventory: {}, DeedNotSent: {},
	}
)

// ValidatePaymentStatus checks if the payment status is valid
func ValidatePaymentStatus(s PaymentStatus) bool {
	_, ok := validPaymentStatuses[s]
	return ok
}

// ValidateDeedStatus checks if the deed status is valid
func ValidateDeedStatus(s DeedStatus) bool {
	_, ok := validDeedStatuses[s]
	return ok
}

// GlobalPeriodLabel keys the synthetic PeriodTotal that aggregates every period.
const GlobalPeriodLabel = "GERAL"

// MinCaseNumberLen is the shortest accepted external case number ("número SICASE").
const MinCaseNumberLen = 3

// ProcessRecord is a single deed-processing case ("processo").
// All monetary fields are integer cents; floating reais never enter the
// model, which keeps repeated aggregation free of rounding drift.
type ProcessRecord struct {
	ID            string         `firestore:"-" json:"id"`
	Ticket        string         `firestore:"talao" json:"talao"`
	PaymentStatus PaymentStatus  `firestore:"statusPagamento" json:"statusPagamento"`
	DeedStatus    DeedStatus     `firestore:"statusEscritura" json:"statusEscritura"`
	DeliveryRef   string         `firestore:"rgiEntrega" json:"rgiEntrega"`
	Nature        string         `firestore:"natureza" json:"natureza"`
	Parties       string         `firestore:"edificioAdquirenteResponsavel" json:"edificioAdquirenteResponsavel"`
	FeesCents     int64          `firestore:"valorEmolumentos" json:"valorEmolumentos"`
	BrokerCents   int64          `firestore:"valorCorretor" json:"valorCorretor"`
	AdvisoryCents int64          `firestore:"valorAssessoria" json:"valorAssessoria"`
	CaseNumber    string         `firestore:"numeroSicase" json:"numeroSicase"`
	PeriodLabel   string         `firestore:"mesReferencia" json:"mesReferencia"`
	CreatedAt     time.Time      `firestore:"dataCriacao" json:"dataCriacao"`
	UpdatedAt     time.Time      `firestore:"dataAtualizacao" json:"dataAtualizacao"`
	History       []HistoryEntry `firestore:"historico" json:"historico"`
}

// HistoryEntry is one append-only change-history item on a record.
type HistoryEntry struct {
	ID       string      `firestore:"id" json:"id"`
	At       time.Time   `firestore:"data" json:"data"`
	Action   string      `firestore:"acao" json:"acao"`
	Actor    string      `firestore:"usuario" json:"usuario"`
	Previous interface{} `firestore:"valorAnterior,omitempty" json:"valorAnterior,omitempty"`
	Next     interface{} `firestore:"valorNovo,omitempty" json:"valorNovo,omitempty"`
}

// Validate checks the invariants that must hold before persisting a record.
func (r *ProcessRecord) Validate() error {
	if r.DeliveryRef == "" {
		return fmt.Errorf("delivery reference (RGI/entrega) cannot be empty")
	}
	if r.Nature == "" {
		return fmt.Errorf("nature cannot be empty")
	}
	if r.Parties == "" {
		return fmt.Errorf("parties description cannot be empty")
	}
	if r.FeesCents <= 0 {
		return fmt.Errorf("fees amount must be positive, got %d", r.FeesCents)
	}
	if r.BrokerCents < 0 {
		return fmt.Errorf("broker amount cannot be negative, got %d", r.BrokerCents)
	}
	if r.AdvisoryCents < 0 {
		return fmt.Errorf("advisory amount cannot be negative, got %d", r.AdvisoryCents)
	}
	if len(r.CaseNumber) < MinCaseNumberLen {
		return fmt.Errorf("case number must have at least %d characters, got %q", MinCaseNumberLen, r.CaseNumber)
	}
	if !ValidatePaymentStatus(r.PaymentStatus) {
		return fmt.Errorf("invalid payment status: %s", r.PaymentStatus)
	}
	if !ValidateDeedStatus(r.DeedStatus) {
		return fmt.Errorf("invalid deed status: %s", r.DeedStatus)
	}
	return nil
}

// PeriodTotal is the persisted aggregate ("totalizador") for one period
// label, or for GlobalPeriodLabel summing every period. It is always
// written wholesale by a recompute, never patched field by field.
type PeriodTotal struct {
	PeriodLabel      string    `firestore:"mesReferencia" json:"mesReferencia"`
	TotalFees        int64     `firestore:"totalEmolumentos" json:"totalEmolumentos"`
	TotalBroker      int64     `firestore:"totalCorretor" json:"totalCorretor"`
	TotalAdvisory    int64     `firestore:"totalAssessoria" json:"totalAssessoria"`
	TotalPaid        int64     `firestore:"totalPagamento" json:"totalPagamento"`
	RecordCount      int64     `firestore:"quantidadeProcessos" json:"quantidadeProcessos"`
	LastRecalculated time.Time `firestore:"dataAtualizacao" json:"dataAtualizacao"`
}

// Add accumulates one record into the total. The paid sum only counts
// fees of records whose payment status is Paid.
func (t *PeriodTotal) Add(r *ProcessRecord) {
	t.TotalFees += r.FeesCents
	t.TotalBroker += r.BrokerCents
	t.TotalAdvisory += r.AdvisoryCents
	if r.PaymentStatus == PaymentPaid {
		t.TotalPaid += r.FeesCents
	}
	t.RecordCount++
}

// AddTotal folds another period total into this one. Used by the global
// recompute, which derives GERAL from persisted per-period totals.
func (t *PeriodTotal) AddTotal(other *PeriodTotal) {
	t.TotalFees += other.TotalFees
	t.TotalBroker += other.TotalBroker
	t.TotalAdvisory += other.TotalAdvisory
	t.TotalPaid += other.TotalPaid
	t.RecordCount += other.RecordCount
}
