// Package store persists plan text and per-node counters into the
// database's own append-only tables (§3, §4.2): plans(query_id,
// generation, db_id, pid, timestamp, features_text) and stats(query_id,
// db_id, pid, timestamp, plan_node_id, elapsed_us, counter0..counter9,
// payload, comment). It uses database/sql with github.com/lib/pq, the
// same driver internal/output's table sink uses.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// Store wraps a *sql.DB opened with the "postgres" driver (lib/pq).
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// PlanRow is one row of the plans table.
type PlanRow struct {
	QueryID      int64
	Generation   int32
	DBID         int32
	PID          int32
	Timestamp    time.Time
	FeaturesText string
}

// StatRow is one row of the stats table: either a per-counter-block row
// (Counters populated) or the whole-query elapsed-time row (Counters left
// zero, Comment set to "query").
type StatRow struct {
	QueryID    int64
	DBID       int32
	PID        int32
	Timestamp  time.Time
	PlanNodeID ou.PlanNodeID
	ElapsedUs  float64
	Counters   [10]float64
	Payload    int64
	Comment    string
}

// UpsertPlan implements the B-tree-guarded upsert of §4.2: an
// existence check against the (query_id, generation, db_id, pid) primary
// key, followed by an insert only when absent. Postgres' ON CONFLICT DO
// NOTHING is the SQL-level equivalent of the original's hand-rolled
// IndexLookup/_bt_check_unique dance (original_source/cmudb/qss/qss_plans.c) -
// both leave an existing row untouched and never duplicate it (§8
// property 6).
func (s *Store) UpsertPlan(ctx context.Context, row PlanRow) error {
	const q = `
		INSERT INTO plans (query_id, generation, db_id, pid, timestamp, features_text)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (query_id, generation, db_id, pid) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, row.QueryID, row.Generation, row.DBID, row.PID, row.Timestamp, row.FeaturesText)
	if err != nil {
		return errors.Wrapf(ouerrors.ErrPersistence, "qss/store: upsert plan for query %d: %v", row.QueryID, err)
	}
	return nil
}

// InsertStats appends rows to the stats table. Persistence errors
// propagate to the caller as database errors (§4.2 failure
// semantics) rather than being swallowed.
func (s *Store) InsertStats(ctx context.Context, rows []StatRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(ouerrors.ErrPersistence, err.Error())
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO stats (query_id, db_id, pid, timestamp, plan_node_id, elapsed_us,
			counter0, counter1, counter2, counter3, counter4,
			counter5, counter6, counter7, counter8, counter9,
			payload, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return errors.Wrap(ouerrors.ErrPersistence, err.Error())
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, r.QueryID, r.DBID, r.PID, r.Timestamp, r.PlanNodeID, r.ElapsedUs,
			r.Counters[0], r.Counters[1], r.Counters[2], r.Counters[3], r.Counters[4],
			r.Counters[5], r.Counters[6], r.Counters[7], r.Counters[8], r.Counters[9],
			r.Payload, r.Comment)
		if err != nil {
			return errors.Wrapf(ouerrors.ErrPersistence, "qss/store: insert stats row for query %d, plan node %d: %v", r.QueryID, r.PlanNodeID, err)
		}
	}
	return tx.Commit()
}
