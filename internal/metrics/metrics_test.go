package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartorio-systems/escriba/internal/domain"
)

type fakeStore struct {
	totals  map[string]*domain.PeriodTotal
	records map[string][]*domain.ProcessRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		totals:  make(map[string]*domain.PeriodTotal),
		records: make(map[string][]*domain.ProcessRecord),
	}
}

func (f *fakeStore) GetPeriodTotal(_ context.Context, label string) (*domain.PeriodTotal, error) {
	return f.totals[label], nil
}

func (f *fakeStore) ListPeriodTotals(_ context.Context) ([]*domain.PeriodTotal, error) {
	var out []*domain.PeriodTotal
	for _, t := range f.totals {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) GetRecords(_ context.Context) ([]*domain.ProcessRecord, error) {
	var out []*domain.ProcessRecord
	for _, recs := range f.records {
		out = append(out, recs...)
	}
	return out, nil
}

func (f *fakeStore) GetRecordsByPeriod(_ context.Context, label string) ([]*domain.ProcessRecord, error) {
	return f.records[label], nil
}

func TestPeriodTotalsPrefersPersisted(t *testing.T) {
	store := newFakeStore()
	store.totals["AGOSTO - 2025"] = &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 500}
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{{FeesCents: 999, PaymentStatus: domain.PaymentPaid}}

	svc := NewService(store)
	total, fromCache, err := svc.PeriodTotals(context.Background(), "AGOSTO - 2025")
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, int64(500), total.TotalFees)
}

func TestPeriodTotalsFallsBackToLiveScan(t *testing.T) {
	store := newFakeStore()
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{
		{FeesCents: 100, BrokerCents: 10, PaymentStatus: domain.PaymentPaid},
		{FeesCents: 200, PaymentStatus: domain.PaymentToGenerate},
	}

	svc := NewService(store)
	total, fromCache, err := svc.PeriodTotals(context.Background(), "AGOSTO - 2025")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, int64(300), total.TotalFees)
	assert.Equal(t, int64(100), total.TotalPaid)
	assert.Equal(t, int64(2), total.RecordCount)
	// fallback must not persist anything
	assert.Nil(t, store.totals["AGOSTO - 2025"])
}

func TestVariationAgainstPreviousPeriod(t *testing.T) {
	store := newFakeStore()
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025", TotalFees: 200, TotalPaid: 100}
	current := &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 300, TotalPaid: 100}

	svc := NewService(store)
	v, err := svc.VariationFor(context.Background(), "AGOSTO - 2025", current)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 50.0, v.Fees)
	assert.Equal(t, 0.0, v.Paid)
	assert.Equal(t, "JULHO - 2025", v.Baseline)
}

func TestVariationTriesShortSpelling(t *testing.T) {
	store := newFakeStore()
	store.totals["JUL - 2025"] = &domain.PeriodTotal{PeriodLabel: "JUL - 2025", TotalFees: 100}
	current := &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 150}

	svc := NewService(store)
	v, err := svc.VariationFor(context.Background(), "AGOSTO - 2025", current)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 50.0, v.Fees)
	assert.Equal(t, "JUL - 2025", v.Baseline)
}

func TestVariationZeroPreviousYieldsZero(t *testing.T) {
	store := newFakeStore()
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025"}
	current := &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 300}

	svc := NewService(store)
	v, err := svc.VariationFor(context.Background(), "AGOSTO - 2025", current)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.0, v.Fees)
}

func TestVariationMissingPreviousYieldsZeros(t *testing.T) {
	svc := NewService(newFakeStore())
	v, err := svc.VariationFor(context.Background(), "AGOSTO - 2025", &domain.PeriodTotal{TotalFees: 300})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.0, v.Fees)
	assert.Equal(t, 0.0, v.Records)
	assert.Equal(t, "JULHO - 2025", v.Baseline)
}

func TestVariationIncludesRecordCount(t *testing.T) {
	store := newFakeStore()
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025", TotalFees: 100, RecordCount: 4}
	current := &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 100, RecordCount: 5}

	svc := NewService(store)
	v, err := svc.VariationFor(context.Background(), "AGOSTO - 2025", current)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 25.0, v.Records)
	assert.Equal(t, 0.0, v.Fees)
}

func TestVariationGlobalScansBaselineYearRecords(t *testing.T) {
	// no persisted totals at all: the baseline comes from the records
	store := newFakeStore()
	store.records["AGOSTO - 2024"] = []*domain.ProcessRecord{
		{PeriodLabel: "AGOSTO - 2024", FeesCents: 100, PaymentStatus: domain.PaymentPaid},
	}
	store.records["Planilha2024"] = []*domain.ProcessRecord{
		{PeriodLabel: "Planilha2024", FeesCents: 50, PaymentStatus: domain.PaymentToGenerate},
	}
	store.records["JANEIRO - 2025"] = []*domain.ProcessRecord{
		{PeriodLabel: "JANEIRO - 2025", FeesCents: 999, PaymentStatus: domain.PaymentPaid},
	}
	current := &domain.PeriodTotal{PeriodLabel: domain.GlobalPeriodLabel, TotalFees: 300, RecordCount: 4}

	svc := NewService(store)
	v, err := svc.VariationFor(context.Background(), domain.GlobalPeriodLabel, current)
	require.NoError(t, err)
	require.NotNil(t, v)
	// baseline fees 150: the unparseable "Planilha2024" label still counts
	assert.Equal(t, 100.0, v.Fees)
	assert.Equal(t, 100.0, v.Records)
	assert.Equal(t, "2024", v.Baseline)
}

func TestVariationGlobalEmptyBaselineYieldsZeros(t *testing.T) {
	svc := NewService(newFakeStore())
	v, err := svc.VariationFor(context.Background(), domain.GlobalPeriodLabel, &domain.PeriodTotal{TotalFees: 300})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.0, v.Fees)
	assert.Equal(t, "2024", v.Baseline)
}

func TestVariationRoundsToOneDecimal(t *testing.T) {
	assert.Equal(t, 33.3, percentChange(400, 300))
	assert.Equal(t, -33.3, percentChange(200, 300))
	assert.Equal(t, 0.0, percentChange(100, 0))
}

func TestDeedStatusDistribution(t *testing.T) {
	records := []*domain.ProcessRecord{
		{DeedStatus: domain.DeedReady},
		{DeedStatus: domain.DeedReady},
		{DeedStatus: domain.DeedInProgress},
	}
	dist := DeedStatusDistribution(records)
	assert.Equal(t, 2, dist[domain.DeedReady])
	assert.Equal(t, 1, dist[domain.DeedInProgress])
}

func TestNatureDistributionTopN(t *testing.T) {
	var records []*domain.ProcessRecord
	add := func(nature string, n int) {
		for i := 0; i < n; i++ {
			records = append(records, &domain.ProcessRecord{Nature: nature})
		}
	}
	add("Compra e Venda", 5)
	add("Doação", 3)
	add("Inventário", 3)
	add("Permuta", 1)

	top := NatureDistribution(records, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "Compra e Venda", top[0].Nature)
	// tie at 3 breaks alphabetically
	assert.Equal(t, "Doação", top[1].Nature)
}

func TestMonthlyEvolutionOrderedAndFiltered(t *testing.T) {
	store := newFakeStore()
	store.totals["AGOSTO - 2025"] = &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 2}
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025", TotalFees: 1}
	store.totals["DEZ - 2024"] = &domain.PeriodTotal{PeriodLabel: "DEZ - 2024", TotalFees: 3}
	store.totals[domain.GlobalPeriodLabel] = &domain.PeriodTotal{PeriodLabel: domain.GlobalPeriodLabel, TotalFees: 999}

	svc := NewService(store)
	points, err := svc.MonthlyEvolution(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "DEZ - 2024", points[0].PeriodLabel)
	assert.Equal(t, "Dez", points[0].Month)
	assert.Equal(t, "JULHO - 2025", points[1].PeriodLabel)
	assert.Equal(t, "AGOSTO - 2025", points[2].PeriodLabel)
}

func TestDashboardAssembly(t *testing.T) {
	store := newFakeStore()
	store.totals["AGOSTO - 2025"] = &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 300}
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025", TotalFees: 200}
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{
		{Nature: "Compra e Venda", DeedStatus: domain.DeedReady, FeesCents: 300},
	}

	svc := NewService(store)
	d, err := svc.Dashboard(context.Background(), "AGOSTO - 2025")
	require.NoError(t, err)

	assert.True(t, d.FromCache)
	assert.Equal(t, int64(300), d.Totals.TotalFees)
	require.NotNil(t, d.Variation)
	assert.Equal(t, 50.0, d.Variation.Fees)
	assert.Equal(t, 1, d.DeedStatus[domain.DeedReady])
	require.Len(t, d.TopNatures, 1)
	assert.Len(t, d.Evolution, 2)
}
