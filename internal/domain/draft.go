package domain

import (
	"fmt"
	"time"
)

// RecordDraft accumulates fields for a record as they are discovered
// (from a spreadsheet row or a form payload) without claiming validity.
// Only Build converts a draft into a ProcessRecord, and only after the
// required fields are confirmed present.
type RecordDraft struct {
	Ticket        string
	PaymentStatus PaymentStatus
	DeedStatus    DeedStatus
	DeliveryRef   string
	Nature        string
	Parties       string
	FeesCents     int64
	BrokerCents   int64
	AdvisoryCents int64
	CaseNumber    string
	PeriodLabel   string
}

// NewRecordDraft creates an empty draft with the workflow defaults
// applied (payment still to generate, deed in progress).
func NewRecordDraft() *RecordDraft {
	return &RecordDraft{
		PaymentStatus: PaymentToGenerate,
		DeedStatus:    DeedInProgress,
	}
}

// Build validates the draft and produces a record ready for persistence.
// Timestamps are set to now and the change history starts empty.
func (d *RecordDraft) Build(now time.Time) (*ProcessRecord, error) {
	rec := &ProcessRecord{
		Ticket:        d.Ticket,
		PaymentStatus: d.PaymentStatus,
		DeedStatus:    d.DeedStatus,
		DeliveryRef:   d.DeliveryRef,
		Nature:        d.Nature,
		Parties:       d.Parties,
		FeesCents:     d.FeesCents,
		BrokerCents:   d.BrokerCents,
		AdvisoryCents: d.AdvisoryCents,
		CaseNumber:    d.CaseNumber,
		PeriodLabel:   d.PeriodLabel,
		CreatedAt:     now,
		UpdatedAt:     now,
		History:       []HistoryEntry{},
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("draft does not build a valid record: %w", err)
	}
	return rec, nil
}
