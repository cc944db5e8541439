package totals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartorio-systems/escriba/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string][]*domain.ProcessRecord
	totals  map[string]*domain.PeriodTotal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string][]*domain.ProcessRecord),
		totals:  make(map[string]*domain.PeriodTotal),
	}
}

func (f *fakeStore) GetRecordsByPeriod(_ context.Context, label string) ([]*domain.ProcessRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[label], nil
}

func (f *fakeStore) PeriodLabels(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var labels []string
	for label := range f.records {
		labels = append(labels, label)
	}
	return labels, nil
}

func (f *fakeStore) GetPeriodTotal(_ context.Context, label string) (*domain.PeriodTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals[label], nil
}

func (f *fakeStore) SetPeriodTotal(_ context.Context, total *domain.PeriodTotal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *total
	f.totals[total.PeriodLabel] = &cp
	return nil
}

func (f *fakeStore) ListPeriodTotals(_ context.Context) ([]*domain.PeriodTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var totals []*domain.PeriodTotal
	for _, t := range f.totals {
		cp := *t
		totals = append(totals, &cp)
	}
	return totals, nil
}

func record(label string, fees, broker, advisory int64, status domain.PaymentStatus) *domain.ProcessRecord {
	return &domain.ProcessRecord{
		PaymentStatus: status,
		DeedStatus:    domain.DeedInProgress,
		FeesCents:     fees,
		BrokerCents:   broker,
		AdvisoryCents: advisory,
		PeriodLabel:   label,
	}
}

func TestRecomputePeriod(t *testing.T) {
	store := newFakeStore()
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{
		record("AGOSTO - 2025", 150027, 20000, 10000, domain.PaymentPaid),
		record("AGOSTO - 2025", 80000, 0, 5000, domain.PaymentToGenerate),
	}
	engine := NewEngine(store, store)

	total, err := engine.RecomputePeriod(context.Background(), "AGOSTO - 2025")
	require.NoError(t, err)

	assert.Equal(t, int64(230027), total.TotalFees)
	assert.Equal(t, int64(20000), total.TotalBroker)
	assert.Equal(t, int64(15000), total.TotalAdvisory)
	// only the paid record's fees count toward the paid sum
	assert.Equal(t, int64(150027), total.TotalPaid)
	assert.Equal(t, int64(2), total.RecordCount)
	assert.NotNil(t, store.totals["AGOSTO - 2025"])
}

func TestRecomputePeriodEmptyWritesZeroTotal(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, store)

	total, err := engine.RecomputePeriod(context.Background(), "JULHO - 2025")
	require.NoError(t, err)
	assert.Zero(t, total.TotalFees)
	assert.Zero(t, total.RecordCount)
	assert.NotNil(t, store.totals["JULHO - 2025"])
}

func TestRecomputePeriodRejectsGlobalLabel(t *testing.T) {
	engine := NewEngine(newFakeStore(), newFakeStore())
	_, err := engine.RecomputePeriod(context.Background(), domain.GlobalPeriodLabel)
	require.Error(t, err)
	_, err = engine.RecomputePeriod(context.Background(), "")
	require.Error(t, err)
}

func TestRecomputePeriodIdempotent(t *testing.T) {
	store := newFakeStore()
	store.records["MAR - 2024"] = []*domain.ProcessRecord{
		record("MAR - 2024", 150027, 20000, 10000, domain.PaymentPaid),
		record("MAR - 2024", 80000, 0, 5000, domain.PaymentToGenerate),
	}
	engine := NewEngine(store, store)

	first, err := engine.RecomputePeriod(context.Background(), "MAR - 2024")
	require.NoError(t, err)
	second, err := engine.RecomputePeriod(context.Background(), "MAR - 2024")
	require.NoError(t, err)

	first.LastRecalculated = time.Time{}
	second.LastRecalculated = time.Time{}
	assert.Equal(t, first, second)
}

func TestDeleteOnlyRecordKeepsStaleTotal(t *testing.T) {
	store := newFakeStore()
	store.records["MAR - 2024"] = []*domain.ProcessRecord{record("MAR - 2024", 100, 0, 0, domain.PaymentPaid)}
	engine := NewEngine(store, store)

	_, err := engine.RecomputePeriod(context.Background(), "MAR - 2024")
	require.NoError(t, err)

	store.mu.Lock()
	delete(store.records, "MAR - 2024")
	store.mu.Unlock()

	total, err := engine.RecomputePeriod(context.Background(), "MAR - 2024")
	require.NoError(t, err)
	assert.Zero(t, total.RecordCount)
	assert.Zero(t, total.TotalFees)
	// the stale document is zeroed in place, never removed
	assert.NotNil(t, store.totals["MAR - 2024"])
}

func TestRecomputeGlobalDerivesFromPersistedTotals(t *testing.T) {
	store := newFakeStore()
	store.totals["JULHO - 2025"] = &domain.PeriodTotal{PeriodLabel: "JULHO - 2025", TotalFees: 100, TotalPaid: 50, RecordCount: 1}
	store.totals["AGOSTO - 2025"] = &domain.PeriodTotal{PeriodLabel: "AGOSTO - 2025", TotalFees: 200, TotalPaid: 200, RecordCount: 2}
	// a previous global bucket must not count itself
	store.totals[domain.GlobalPeriodLabel] = &domain.PeriodTotal{PeriodLabel: domain.GlobalPeriodLabel, TotalFees: 999}
	// records collection is richer than the totals, but global only
	// sums what was persisted
	store.records["SETEMBRO - 2025"] = []*domain.ProcessRecord{record("SETEMBRO - 2025", 7, 0, 0, domain.PaymentPaid)}

	engine := NewEngine(store, store)
	global, err := engine.RecomputeGlobal(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(300), global.TotalFees)
	assert.Equal(t, int64(250), global.TotalPaid)
	assert.Equal(t, int64(3), global.RecordCount)
}

func TestRecomputeAll(t *testing.T) {
	store := newFakeStore()
	store.records["JULHO - 2025"] = []*domain.ProcessRecord{record("JULHO - 2025", 100, 0, 0, domain.PaymentPaid)}
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{record("AGOSTO - 2025", 200, 0, 0, domain.PaymentToGenerate)}

	engine := NewEngine(store, store)
	require.NoError(t, engine.RecomputeAll(context.Background()))

	assert.Len(t, store.totals, 3)
	global := store.totals[domain.GlobalPeriodLabel]
	require.NotNil(t, global)
	assert.Equal(t, int64(300), global.TotalFees)
	assert.Equal(t, int64(100), global.TotalPaid)
}

func TestEnqueueRecomputesAsync(t *testing.T) {
	store := newFakeStore()
	store.records["AGOSTO - 2025"] = []*domain.ProcessRecord{record("AGOSTO - 2025", 100, 0, 0, domain.PaymentPaid)}

	engine := NewEngine(store, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	engine.Enqueue("AGOSTO - 2025")

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, period := store.totals["AGOSTO - 2025"]
		_, global := store.totals[domain.GlobalPeriodLabel]
		return period && global
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopClosesErrors(t *testing.T) {
	engine := NewEngine(newFakeStore(), newFakeStore())
	engine.Start(context.Background())
	engine.Stop()

	select {
	case _, open := <-engine.Errors():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Errors channel still open after Stop")
	}

	// a second Stop must be a no-op, not a double close
	engine.Stop()
}

func TestEnqueueIgnoresGlobalLabel(t *testing.T) {
	engine := NewEngine(newFakeStore(), newFakeStore())
	// no worker running; a queued label would stay in the channel
	engine.Enqueue(domain.GlobalPeriodLabel)
	engine.Enqueue("")
	assert.Empty(t, engine.queue)
}
