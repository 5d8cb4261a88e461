package output

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// TableSink persists completed records into the database's own
// collector_output table instead of an external file or upload endpoint,
// selected when config.OutputNoisepage is true (§6: "the
// coordinator's sink is pluggable; a self-hosted table is one valid
// choice alongside CSV or remote upload"). Grounded in the same
// lib/pq-based insert pattern internal/qss/store uses.
type TableSink struct {
	db *sql.DB
}

// NewTableSink wraps an already-opened *sql.DB.
func NewTableSink(db *sql.DB) *TableSink {
	return &TableSink{db: db}
}

const insertOutputSQL = `
INSERT INTO collector_output (ou_index, pid, features, metrics)
VALUES ($1, $2, $3, $4)
`

// Publish inserts one completed record. Marshal and insert errors are
// discarded without logging or counting, so a down database does not
// stall the router (§6).
func (s *TableSink) Publish(o collector.Output) {
	featuresJSON, err := json.Marshal(o.Features.Fields)
	if err != nil {
		return
	}
	metricsJSON, err := json.Marshal(o.Metrics)
	if err != nil {
		return
	}
	_, _ = s.db.ExecContext(context.Background(), insertOutputSQL, int32(o.OUIndex), o.PID, featuresJSON, metricsJSON)
}

// Drop is a no-op: TableSink keeps no drop count of its own.
func (s *TableSink) Drop(key ou.Key, reason string) {}

// EnsureSchema creates collector_output if it does not already exist, so a
// fresh database can be pointed at TableSink without a separate migration
// step.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collector_output (
	id BIGSERIAL PRIMARY KEY,
	ou_index INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	features JSONB NOT NULL,
	metrics JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(ouerrors.ErrPersistence, err.Error())
	}
	return nil
}
