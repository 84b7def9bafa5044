package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InsertAlert(ctx context.Context, alert domain.AlertEvent) error {
	evidence, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("marshal alert evidence: %w", err)
	}
	actions := make([]string, len(alert.Actions))
	for i, a := range alert.Actions {
		actions[i] = string(a)
	}

	query := `
		INSERT INTO vehicle_alerts
			(id, vehicle_id, kind, severity, evidence, actions, alert_timestamp)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`
	_, err = s.pool.Exec(
		ctx,
		query,
		alert.ID,
		alert.VehicleID,
		string(alert.Kind),
		string(alert.Severity),
		string(evidence),
		actions,
		alert.Timestamp,
	)
	return err
}

var recordColumns = []string{
	"id",
	"cargo_id",
	"vehicle_id",
	"record_timestamp",
	"pass",
	"reasons",
}

func (s *PostgresStore) BatchInsertRecords(ctx context.Context, records []domain.ComplianceRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{
			r.ID,
			r.CargoID,
			r.VehicleID,
			r.Timestamp,
			r.Verdict.Pass,
			r.Verdict.Reasons,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"compliance_records"},
		recordColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(records), err)
	}

	return nil
}
