package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"comanda/backend/internal/cache"
	"comanda/backend/internal/domain"
)

const topDishLimit = 5

// Source is the slice of the repository the aggregator reads from.
type Source interface {
	GetSalesTotal(ctx context.Context, from time.Time, to time.Time) (int64, error)
	GetTopDishes(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.TopDish, error)
	GetRawMaterialUsage(ctx context.Context, from time.Time, to time.Time) ([]domain.RawMaterialUsage, error)
}

type Aggregator struct {
	source   Source
	cache    cache.ReportCache
	cacheTTL time.Duration
}

func NewAggregator(source Source, cacheStore cache.ReportCache, cacheTTL time.Duration) *Aggregator {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Aggregator{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Statistics aggregates sales over the inclusive date range [startDay, endDay],
// where both bounds are UTC day starts. Reports tolerate a few seconds of
// staleness, so results are cached under a short TTL.
func (a *Aggregator) Statistics(ctx context.Context, startDay time.Time, endDay time.Time) (domain.Statistics, error) {
	from := startDay.UTC()
	toExclusive := endDay.UTC().Add(24 * time.Hour)

	cacheKey := buildCacheKey(from, toExclusive)
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	stats := domain.Statistics{
		StartDate:        from.Format("2006-01-02"),
		EndDate:          endDay.UTC().Format("2006-01-02"),
		TopDishes:        make([]domain.TopDish, 0, topDishLimit),
		RawMaterialsUsed: make([]domain.RawMaterialUsage, 0, 16),
	}

	total, err := a.source.GetSalesTotal(ctx, from, toExclusive)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("sales total: %w", err)
	}
	stats.TotalCents = total

	topDishes, err := a.source.GetTopDishes(ctx, from, toExclusive, topDishLimit)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("top dishes: %w", err)
	}
	stats.TopDishes = append(stats.TopDishes, topDishes...)

	usage, err := a.source.GetRawMaterialUsage(ctx, from, toExclusive)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("raw material usage: %w", err)
	}
	for _, row := range usage {
		// Accumulation stays unrounded in the source; only the reported
		// figure is fixed to two decimal places.
		row.TotalUsed = roundTo2(row.TotalUsed)
		stats.RawMaterialsUsed = append(stats.RawMaterialsUsed, row)
	}

	_ = a.cache.Set(ctx, cacheKey, &stats, a.cacheTTL)

	return stats, nil
}

func roundTo2(value float64) float64 {
	return decimal.NewFromFloat(value).Round(2).InexactFloat64()
}

func buildCacheKey(from time.Time, toExclusive time.Time) string {
	return fmt.Sprintf("report:sales:%d:%d", from.Unix(), toExclusive.Unix())
}
