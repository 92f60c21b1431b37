// Package resolver looks up publicly resolvable QR records across all
// tenant partitions and validates their expiry.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qrpay/qr-gateway/internal/cache"
	"github.com/qrpay/qr-gateway/internal/domain"
	"github.com/qrpay/qr-gateway/internal/metrics"
)

// Locator runs the cross-partition lookup: one logical query spanning every
// tenant partition. A backend may implement it as a global secondary index,
// a fan-out scan, or a dedicated lookup table; return order is backend
// defined but must be stable for a fixed store state.
type Locator interface {
	FindByQRID(ctx context.Context, qrID string) ([]domain.QRRecord, error)
}

// AnomalyReporter receives data-integrity anomalies found at read time.
type AnomalyReporter interface {
	DuplicateQRID(ctx context.Context, qrID string, matches int)
}

type Config struct {
	Locator  Locator
	Cache    cache.Cache
	CacheTTL time.Duration
	Reporter AnomalyReporter
}

type Resolver struct {
	locator  Locator
	cache    cache.Cache
	cacheTTL time.Duration
	reporter AnomalyReporter
}

func New(cfg Config) *Resolver {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}

	return &Resolver{
		locator:  cfg.Locator,
		cache:    cfg.Cache,
		cacheTTL: cacheTTL,
		reporter: cfg.Reporter,
	}
}

// Resolve returns the record matching qrID, or domain.ErrInvalidQRID,
// domain.ErrNotFound or domain.ErrExpired. qrID uniqueness among publicly
// resolvable records is enforced by the write path; a multi-match here is a
// data-integrity anomaly, reported and resolved to the first record in
// locator order, never merged.
func (r *Resolver) Resolve(ctx context.Context, qrID string) (*domain.QRRecord, error) {
	if qrID == "" {
		return nil, domain.ErrInvalidQRID
	}

	if r.cache != nil {
		if rec, ok := r.cache.Get(ctx, qrID); ok {
			metrics.RecordCacheHit()
			return checkExpiry(rec)
		}
		metrics.RecordCacheMiss()
	}

	records, err := r.locator.FindByQRID(ctx, qrID)
	if err != nil {
		return nil, fmt.Errorf("find qr %q: %w", qrID, err)
	}

	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}

	if len(records) > 1 {
		slog.Warn("multiple records share one qrId, selecting first",
			"qr_id", qrID,
			"matches", len(records),
		)
		metrics.RecordIntegrityAnomaly()
		if r.reporter != nil {
			r.reporter.DuplicateQRID(ctx, qrID, len(records))
		}
	}

	rec := &records[0]

	if r.cache != nil {
		if err := r.cache.Set(ctx, qrID, rec, r.cacheTTL); err != nil {
			slog.Warn("failed to cache record", "qr_id", qrID, "error", err)
		}
	}

	return checkExpiry(rec)
}

func checkExpiry(rec *domain.QRRecord) (*domain.QRRecord, error) {
	if rec.Expired(time.Now()) {
		return nil, domain.ErrExpired
	}
	return rec, nil
}
