// Package normalize turns raw spreadsheet rows into validated record
// drafts. A row with a missing required field produces an error and no
// draft; a row missing only optional fields produces a draft plus
// warnings. Messages are user-facing and written in Portuguese,
// matching the office's spreadsheets.
package normalize

import (
	"fmt"
	"strings"

	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/domain"
	"github.com/cartorio-systems/escriba/internal/money"
	"github.com/cartorio-systems/escriba/internal/parser"
	"github.com/cartorio-systems/escriba/internal/rules"
)

// RowResult is the outcome of normalizing a single row.
type RowResult struct {
	RowNumber int
	Draft     *domain.RecordDraft
	Errors    []string
	Warnings  []string
}

// OK reports whether the row produced an importable draft.
func (r *RowResult) OK() bool {
	return len(r.Errors) == 0 && r.Draft != nil
}

// GroupResult collects the normalized rows of one parsed group.
type GroupResult struct {
	PeriodLabel string
	Source      string
	Rows        []RowResult
	Warnings    []string
}

// ValidRows returns only the rows that produced a draft.
func (g *GroupResult) ValidRows() []RowResult {
	out := make([]RowResult, 0, len(g.Rows))
	for _, r := range g.Rows {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Normalizer converts raw rows into record drafts.
type Normalizer struct {
	rules *rules.Engine
}

// New creates a normalizer backed by the given classification rules.
func New(engine *rules.Engine) *Normalizer {
	return &Normalizer{rules: engine}
}

// NormalizeGroup normalizes every row of a parsed group. Header mapping
// warnings from the parser carry through to the result.
func (n *Normalizer) NormalizeGroup(g parser.Group) GroupResult {
	out := GroupResult{
		PeriodLabel: g.PeriodLabel,
		Source:      g.Source,
		Warnings:    append([]string{}, g.Warnings...),
	}
	for _, row := range g.Rows {
		out.Rows = append(out.Rows, n.NormalizeRow(row, g.PeriodLabel))
	}
	return out
}

// NormalizeRow builds a draft from one raw row. periodLabel stamps the
// draft's reference period; the row itself never carries one.
func (n *Normalizer) NormalizeRow(row parser.RawRow, periodLabel string) RowResult {
	res := RowResult{RowNumber: row.Number}
	draft := domain.NewRecordDraft()
	draft.PeriodLabel = periodLabel

	cell := func(f columnmap.Field) string {
		return strings.TrimSpace(row.Cells[f])
	}

	draft.DeliveryRef = cell(columnmap.FieldDeliveryRef)
	if draft.DeliveryRef == "" {
		res.fail("RGI/Entrega ausente")
	}
	draft.Nature = cell(columnmap.FieldNature)
	if draft.Nature == "" {
		res.fail("Natureza ausente")
	}
	draft.Parties = cell(columnmap.FieldParties)
	if draft.Parties == "" {
		res.fail("Edf. Adquirente/Responsável ausente")
	}
	draft.CaseNumber = cell(columnmap.FieldCaseNumber)
	if len(draft.CaseNumber) < domain.MinCaseNumberLen {
		res.fail(fmt.Sprintf("Número SICASE inválido: %q", draft.CaseNumber))
	}

	draft.Ticket = cell(columnmap.FieldTicket)
	if draft.Ticket == "" {
		res.warn("Talão ausente, será gerado na importação")
	}

	if raw := cell(columnmap.FieldPaymentStatus); raw != "" {
		draft.PaymentStatus = n.rules.ClassifyPayment(raw)
	}
	if raw := cell(columnmap.FieldDeedStatus); raw != "" {
		draft.DeedStatus = n.rules.ClassifyDeed(raw)
	}

	draft.FeesCents = res.requiredMoney(cell(columnmap.FieldFees), "Valor emolumentos")
	draft.BrokerCents = res.optionalMoney(cell(columnmap.FieldBroker), "Valor corretor")
	draft.AdvisoryCents = res.optionalMoney(cell(columnmap.FieldAdvisory), "Valor assessoria")

	if len(res.Errors) == 0 {
		res.Draft = draft
	}
	return res
}

func (r *RowResult) fail(msg string) {
	r.Errors = append(r.Errors, fmt.Sprintf("linha %d: %s", r.RowNumber, msg))
}

func (r *RowResult) warn(msg string) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("linha %d: %s", r.RowNumber, msg))
}

// requiredMoney parses a mandatory monetary cell. Blank or unparseable
// values, and non-positive amounts, fail the row.
func (r *RowResult) requiredMoney(raw, label string) int64 {
	if raw == "" {
		r.fail(fmt.Sprintf("%s ausente", label))
		return 0
	}
	cents, ok := money.Parse(raw)
	if !ok {
		r.fail(fmt.Sprintf("%s ilegível: %q", label, raw))
		return 0
	}
	if cents <= 0 {
		r.fail(fmt.Sprintf("%s deve ser positivo: %q", label, raw))
		return 0
	}
	return cents
}

// optionalMoney parses an optional monetary cell. Unreadable values are
// downgraded to zero with a warning; blank means zero silently.
func (r *RowResult) optionalMoney(raw, label string) int64 {
	if raw == "" {
		return 0
	}
	cents, ok := money.Parse(raw)
	if !ok || cents < 0 {
		r.warn(fmt.Sprintf("%s ilegível, assumindo zero: %q", label, raw))
		return 0
	}
	return cents
}
