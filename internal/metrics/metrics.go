// Package metrics serves the dashboard read path: period totals with a
// live-scan fallback, period-over-period variation, status and nature
// distributions and the monthly evolution series.
package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cartorio-systems/escriba/internal/domain"
	"github.com/cartorio-systems/escriba/internal/period"
)

// baselineYear anchors the global bucket's variation. GERAL has no
// natural previous period, so it is compared against this year's
// accumulated totals.
const baselineYear = 2024

// topNatureCount bounds the nature distribution shown on the dashboard.
const topNatureCount = 6

// Store is the read slice of the Firestore client the dashboard needs.
type Store interface {
	GetPeriodTotal(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error)
	ListPeriodTotals(ctx context.Context) ([]*domain.PeriodTotal, error)
	GetRecords(ctx context.Context) ([]*domain.ProcessRecord, error)
	GetRecordsByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error)
}

// Variation is the percentage change against the previous period, one
// field per series plus the record count, rounded to one decimal. A
// previous value of zero yields zero, not infinity.
type Variation struct {
	Records  float64 `json:"processos"`
	Fees     float64 `json:"emolumentos"`
	Broker   float64 `json:"corretor"`
	Advisory float64 `json:"assessoria"`
	Paid     float64 `json:"pagamento"`
	Baseline string  `json:"base"`
}

// NatureCount is one slice of the nature distribution.
type NatureCount struct {
	Nature string `json:"natureza"`
	Count  int    `json:"quantidade"`
}

// MonthPoint is one point of the monthly evolution series.
type MonthPoint struct {
	PeriodLabel string `json:"mesReferencia"`
	Month       string `json:"mes"`
	Fees        int64  `json:"totalEmolumentos"`
	Broker      int64  `json:"totalCorretor"`
	Advisory    int64  `json:"totalAssessoria"`
	Paid        int64  `json:"totalPagamento"`
}

// Dashboard is everything the front page shows for one period.
type Dashboard struct {
	PeriodLabel string                    `json:"mesReferencia"`
	Totals      *domain.PeriodTotal       `json:"totais"`
	FromCache   bool                      `json:"totaisPersistidos"`
	Variation   *Variation                `json:"variacao,omitempty"`
	DeedStatus  map[domain.DeedStatus]int `json:"distribuicaoEscritura"`
	TopNatures  []NatureCount             `json:"naturezas"`
	Evolution   []MonthPoint              `json:"evolucaoMensal"`
}

// Service computes dashboard metrics.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a metrics service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// PeriodTotals returns the totals of one period, preferring the
// persisted aggregate. When no aggregate exists yet the records are
// scanned live; the result is not persisted, that is the totals
// engine's job.
func (s *Service) PeriodTotals(ctx context.Context, periodLabel string) (*domain.PeriodTotal, bool, error) {
	total, err := s.store.GetPeriodTotal(ctx, periodLabel)
	if err != nil {
		return nil, false, fmt.Errorf("loading total of %s: %w", periodLabel, err)
	}
	if total != nil {
		return total, true, nil
	}

	records, err := s.store.GetRecordsByPeriod(ctx, periodLabel)
	if err != nil {
		return nil, false, fmt.Errorf("scanning records of %s: %w", periodLabel, err)
	}
	live := &domain.PeriodTotal{PeriodLabel: periodLabel, LastRecalculated: s.now()}
	for _, rec := range records {
		live.Add(rec)
	}
	return live, false, nil
}

// Dashboard assembles the full dashboard payload for one period.
func (s *Service) Dashboard(ctx context.Context, periodLabel string) (*Dashboard, error) {
	totals, fromCache, err := s.PeriodTotals(ctx, periodLabel)
	if err != nil {
		return nil, err
	}

	records, err := s.store.GetRecordsByPeriod(ctx, periodLabel)
	if err != nil {
		return nil, fmt.Errorf("scanning records of %s: %w", periodLabel, err)
	}

	variation, err := s.VariationFor(ctx, periodLabel, totals)
	if err != nil {
		return nil, err
	}

	evolution, err := s.MonthlyEvolution(ctx)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		PeriodLabel: periodLabel,
		Totals:      totals,
		FromCache:   fromCache,
		Variation:   variation,
		DeedStatus:  DeedStatusDistribution(records),
		TopNatures:  NatureDistribution(records, topNatureCount),
		Evolution:   evolution,
	}, nil
}

// VariationFor compares a period's totals against its predecessor.
// The previous period is looked up under both month spellings; when
// neither total exists the variation is all zeros, not nil. The global
// bucket compares against the accumulated baseline year instead. Only
// labels with no derivable previous period yield nil.
func (s *Service) VariationFor(ctx context.Context, periodLabel string, current *domain.PeriodTotal) (*Variation, error) {
	if periodLabel == domain.GlobalPeriodLabel {
		baseline, err := s.baselineTotals(ctx)
		if err != nil {
			return nil, err
		}
		v := variationBetween(current, baseline)
		v.Baseline = strconv.Itoa(baselineYear)
		return v, nil
	}

	full, short, ok := period.Previous(periodLabel)
	if !ok {
		return nil, nil
	}
	for _, label := range []string{full, short} {
		previous, err := s.store.GetPeriodTotal(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("loading previous total %s: %w", label, err)
		}
		if previous != nil {
			v := variationBetween(current, previous)
			v.Baseline = label
			return v, nil
		}
	}
	v := variationBetween(current, &domain.PeriodTotal{})
	v.Baseline = full
	return v, nil
}

// baselineTotals sums all live records whose period label contains the
// baseline year string. Scanning records rather than persisted totals
// keeps periods that were never aggregated, or whose labels came raw
// from sheet names, inside the baseline.
func (s *Service) baselineTotals(ctx context.Context) (*domain.PeriodTotal, error) {
	records, err := s.store.GetRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning baseline records: %w", err)
	}

	year := strconv.Itoa(baselineYear)
	baseline := &domain.PeriodTotal{PeriodLabel: year}
	for _, rec := range records {
		if strings.Contains(rec.PeriodLabel, year) {
			baseline.Add(rec)
		}
	}
	return baseline, nil
}

func variationBetween(current, previous *domain.PeriodTotal) *Variation {
	return &Variation{
		Records:  percentChange(current.RecordCount, previous.RecordCount),
		Fees:     percentChange(current.TotalFees, previous.TotalFees),
		Broker:   percentChange(current.TotalBroker, previous.TotalBroker),
		Advisory: percentChange(current.TotalAdvisory, previous.TotalAdvisory),
		Paid:     percentChange(current.TotalPaid, previous.TotalPaid),
	}
}

// percentChange rounds to one decimal. A zero previous value yields
// zero so brand-new series do not show infinite growth.
func percentChange(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

// DeedStatusDistribution counts records per deed status.
func DeedStatusDistribution(records []*domain.ProcessRecord) map[domain.DeedStatus]int {
	dist := make(map[domain.DeedStatus]int)
	for _, rec := range records {
		dist[rec.DeedStatus]++
	}
	return dist
}

// NatureDistribution returns the top n natures by record count.
// Ties break alphabetically so the chart is stable across reloads.
func NatureDistribution(records []*domain.ProcessRecord, n int) []NatureCount {
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.Nature != "" {
			counts[rec.Nature]++
		}
	}

	out := make([]NatureCount, 0, len(counts))
	for nature, count := range counts {
		out = append(out, NatureCount{Nature: nature, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Nature < out[j].Nature
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// MonthlyEvolution returns the persisted per-period totals as a
// chronological series. The global bucket and unparseable labels are
// left out.
func (s *Service) MonthlyEvolution(ctx context.Context) ([]MonthPoint, error) {
	persisted, err := s.store.ListPeriodTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading period totals: %w", err)
	}

	var points []MonthPoint
	for _, total := range persisted {
		if _, _, ok := period.ParseLabel(total.PeriodLabel); !ok {
			continue
		}
		points = append(points, MonthPoint{
			PeriodLabel: total.PeriodLabel,
			Month:       period.DisplayMonth(total.PeriodLabel),
			Fees:        total.TotalFees,
			Broker:      total.TotalBroker,
			Advisory:    total.TotalAdvisory,
			Paid:        total.TotalPaid,
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return period.Compare(points[i].PeriodLabel, points[j].PeriodLabel) < 0
	})
	return points, nil
}
