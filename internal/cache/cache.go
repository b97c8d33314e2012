package cache

import (
	"context"
	"time"

	"comanda/backend/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.Statistics, bool, error)
	Set(ctx context.Context, key string, value *domain.Statistics, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.Statistics, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.Statistics, _ time.Duration) error {
	return nil
}
