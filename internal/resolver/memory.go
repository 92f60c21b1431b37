package resolver

import (
	"context"
	"sort"
	"sync"

	"github.com/qrpay/qr-gateway/internal/domain"
)

// InMemoryLocator keeps records grouped by tenant partition and answers
// lookups with a fan-out scan over every partition. Partitions are visited
// in sorted path order so selection stays deterministic.
type InMemoryLocator struct {
	mu         sync.RWMutex
	partitions map[string][]domain.QRRecord
}

func NewInMemoryLocator() *InMemoryLocator {
	return &InMemoryLocator{
		partitions: make(map[string][]domain.QRRecord),
	}
}

// Add places a record into its tenant partition.
func (l *InMemoryLocator) Add(rec domain.QRRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partitions[rec.TenantPath] = append(l.partitions[rec.TenantPath], rec)
}

func (l *InMemoryLocator) FindByQRID(ctx context.Context, qrID string) ([]domain.QRRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, 0, len(l.partitions))
	for path := range l.partitions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var matches []domain.QRRecord
	for _, path := range paths {
		for _, rec := range l.partitions[path] {
			if rec.QRID == qrID {
				matches = append(matches, rec)
			}
		}
	}

	return matches, nil
}
