package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "monitor_user"),
		dbGetEnv("DB_PASSWORD", "monitor_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "safety_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	// Run all steps in order
	step1_alerts_table(ctx, conn)
	step2_records_table(ctx, conn)
	step3_indexes(ctx, conn)
	step4_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run scripts/seed_redis/seed_redis.go")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — vehicle_alerts table
// ─────────────────────────────────────────────────────────────
func step1_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: vehicle_alerts table ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_alerts (

			-- Alert IDs are generated by the evaluator (UUID v4).
			-- Using them as the PK makes the insert idempotent:
			-- a retried sink write hits ON CONFLICT DO NOTHING.
			id               TEXT             PRIMARY KEY,

			vehicle_id       TEXT             NOT NULL,

			-- Must exactly match domain.AlertKind constants:
			-- SPEED_VIOLATION | DRIVER_RISK | CARGO_NON_COMPLIANCE
			kind             TEXT             NOT NULL,

			-- Must exactly match domain.Severity constants:
			-- WARNING | HIGH | CRITICAL
			severity         TEXT             NOT NULL,

			-- The readings that triggered this alert
			-- e.g. speed was 127.5 km/h against a limit of 80
			evidence         JSONB            NOT NULL,

			-- Safety action identifiers dispatched with the alert
			actions          TEXT[]           NOT NULL DEFAULT '{}',

			-- Vehicle-reported event time, not server receipt time
			alert_timestamp  TIMESTAMPTZ      NOT NULL,

			created_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Operator acknowledgment — NULL means not yet acknowledged
			acknowledged_at  TIMESTAMPTZ,
			acknowledged_by  TEXT,

			CONSTRAINT chk_alert_kind CHECK (
				kind IN ('SPEED_VIOLATION', 'DRIVER_RISK', 'CARGO_NON_COMPLIANCE')
			),

			CONSTRAINT chk_severity CHECK (
				severity IN ('WARNING', 'HIGH', 'CRITICAL')
			)
		);
	`, "vehicle_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 — compliance_records table
// ─────────────────────────────────────────────────────────────
func step2_records_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: compliance_records table ────────────")

	// Written via CopyFrom in batches — no constraints beyond NOT NULL
	// so a batch never fails on one bad row.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS compliance_records (

			id                TEXT             PRIMARY KEY,

			cargo_id          TEXT             NOT NULL,
			vehicle_id        TEXT             NOT NULL,

			record_timestamp  TIMESTAMPTZ      NOT NULL,

			-- Overall verdict; reasons explain a failure
			-- e.g. {prohibited_cargo:explosives_on_bus, overweight:5200.0kg_gt_5000.0kg}
			pass              BOOLEAN          NOT NULL,
			reasons           TEXT[]           NOT NULL DEFAULT '{}',

			created_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
	`, "compliance_records table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — Indexes
// ─────────────────────────────────────────────────────────────
func step3_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_alerts_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_vehicle
				  ON vehicle_alerts (vehicle_id, alert_timestamp DESC);`,
			why: "query: alerts for one vehicle",
		},
		{
			name: "idx_alerts_unacknowledged",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_unacknowledged
				  ON vehicle_alerts (alert_timestamp DESC)
				  WHERE acknowledged_at IS NULL;`,
			why: "query: unacknowledged alerts only (partial index)",
		},
		{
			name: "idx_records_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_records_vehicle
				  ON compliance_records (vehicle_id, record_timestamp DESC);`,
			why: "query: compliance history for one vehicle",
		},
		{
			name: "idx_records_cargo",
			sql: `CREATE INDEX IF NOT EXISTS idx_records_cargo
				  ON compliance_records (cargo_id, record_timestamp DESC);`,
			why: "query: audit trail for one cargo item",
		},
		{
			name: "idx_records_failed",
			sql: `CREATE INDEX IF NOT EXISTS idx_records_failed
				  ON compliance_records (record_timestamp DESC)
				  WHERE pass = false;`,
			why: "query: failed checks only (partial index)",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 4 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step4_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Verification ────────────────────────")

	tables := []string{"vehicle_alerts", "compliance_records"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('vehicle_alerts', 'compliance_records')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
