// Package inbox deduplicates consumed Kafka events by event id.
package inbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// RecordTx marks an event as seen inside tx and reports whether it was new.
// Because the row commits with the handler's writes, an event is applied at
// most once even when Kafka redelivers it.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
