package resolver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qrpay/qr-gateway/internal/domain"
)

// PostgresLocator answers cross-partition lookups against the qr_codes
// table. The table is list-partitioned by tenant_path; the lookup relies on
// a global index on qr_id, so resolution cost does not grow with the number
// of tenants. ORDER BY keeps first-match selection deterministic for a
// fixed store state.
type PostgresLocator struct {
	db *sql.DB
}

func NewPostgresLocator(db *sql.DB) *PostgresLocator {
	return &PostgresLocator{db: db}
}

func (l *PostgresLocator) FindByQRID(ctx context.Context, qrID string) ([]domain.QRRecord, error) {
	query := `
		SELECT qr_id, tenant_path, expires_at, payload, created_at
		FROM qr_codes
		WHERE qr_id = $1
		ORDER BY tenant_path, created_at
	`

	rows, err := l.db.QueryContext(ctx, query, qrID)
	if err != nil {
		return nil, fmt.Errorf("query qr codes: %w", err)
	}
	defer rows.Close()

	var records []domain.QRRecord
	for rows.Next() {
		var rec domain.QRRecord
		var expiresAt sql.NullTime
		var payload []byte

		err := rows.Scan(
			&rec.QRID,
			&rec.TenantPath,
			&expiresAt,
			&payload,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan qr code: %w", err)
		}

		if expiresAt.Valid {
			t := expiresAt.Time
			rec.ExpiresAt = &t
		}
		rec.Payload = payload

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (l *PostgresLocator) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
