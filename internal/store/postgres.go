package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/goassign/internal/registry"
)

// Schema creates the tables PostgresStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS assign_flags (
	name          TEXT PRIMARY KEY,
	rollout_stage TEXT NOT NULL,
	segments      TEXT[] NOT NULL DEFAULT '{}',
	description   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS assign_experiments (
	name        TEXT PRIMARY KEY,
	variants    TEXT[] NOT NULL,
	weights     INT[] NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT FALSE,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS assign_segments (
	id   TEXT PRIMARY KEY,
	rule TEXT NOT NULL
);`

const (
	selectFlags       = `SELECT name, rollout_stage, segments, description FROM assign_flags ORDER BY name`
	selectExperiments = `SELECT name, variants, weights, active, description FROM assign_experiments ORDER BY name`
	selectSegments    = `SELECT id, rule FROM assign_segments ORDER BY id`

	insertFlag       = `INSERT INTO assign_flags (name, rollout_stage, segments, description) VALUES ($1, $2, $3, $4)`
	insertExperiment = `INSERT INTO assign_experiments (name, variants, weights, active, description) VALUES ($1, $2, $3, $4, $5)`
	insertSegment    = `INSERT INTO assign_segments (id, rule) VALUES ($1, $2)`
)

// PostgresStore reads and writes definitions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (registry.Definitions, error) {
	var defs registry.Definitions

	rows, err := p.pool.Query(ctx, selectFlags)
	if err != nil {
		return defs, fmt.Errorf("query flags: %w", err)
	}
	defs.Flags, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (registry.FlagDefinition, error) {
		var f registry.FlagDefinition
		var stage string
		err := row.Scan(&f.Name, &stage, &f.Segments, &f.Description)
		f.RolloutStage = registry.Stage(stage)
		return f, err
	})
	if err != nil {
		return defs, fmt.Errorf("scan flags: %w", err)
	}

	rows, err = p.pool.Query(ctx, selectExperiments)
	if err != nil {
		return defs, fmt.Errorf("query experiments: %w", err)
	}
	defs.Experiments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (registry.ExperimentDefinition, error) {
		var e registry.ExperimentDefinition
		var weights []int32
		err := row.Scan(&e.Name, &e.Variants, &weights, &e.Active, &e.Description)
		e.Weights = fromInt32s(weights)
		return e, err
	})
	if err != nil {
		return defs, fmt.Errorf("scan experiments: %w", err)
	}

	rows, err = p.pool.Query(ctx, selectSegments)
	if err != nil {
		return defs, fmt.Errorf("query segments: %w", err)
	}
	defs.Segments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (registry.SegmentRule, error) {
		var s registry.SegmentRule
		err := row.Scan(&s.ID, &s.Rule)
		return s, err
	})
	if err != nil {
		return defs, fmt.Errorf("scan segments: %w", err)
	}
	return defs, nil
}

// Save validates defs and replaces all stored definitions in one transaction.
func (p *PostgresStore) Save(ctx context.Context, defs registry.Definitions) error {
	reg, err := registry.New(defs)
	if err != nil {
		return err
	}
	normalized := reg.Definitions()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM assign_flags`)
	batch.Queue(`DELETE FROM assign_experiments`)
	batch.Queue(`DELETE FROM assign_segments`)
	for _, f := range normalized.Flags {
		segments := f.Segments
		if segments == nil {
			segments = []string{}
		}
		batch.Queue(insertFlag, f.Name, string(f.RolloutStage), segments, f.Description)
	}
	for _, e := range normalized.Experiments {
		batch.Queue(insertExperiment, e.Name, e.Variants, toInt32s(e.Weights), e.Active, e.Description)
	}
	for _, s := range normalized.Segments {
		batch.Queue(insertSegment, s.ID, s.Rule)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write definitions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
