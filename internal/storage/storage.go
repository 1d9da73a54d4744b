// Package storage provides persistent storage for the AgriMatch core using
// SQLite, with a single-writer connection pool extended with
// transaction-scoped row locking (tx.go) because AgriMatch's concurrency
// invariants require atomic read-modify-write across several statements,
// not just independent ones.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the SQLite-backed persistence layer shared by every
// repository file in this package.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	DataDir string
	DBFile  string
}

// New opens (creating if necessary) the SQLite database and initializes
// the schema.
func New(cfg Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbFile := cfg.DBFile
	if dbFile == "" {
		dbFile = "agrimatch.db"
	}
	dbPath := filepath.Join(dataDir, dbFile)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite supports exactly one writer; a single pooled connection keeps
	// BEGIN IMMEDIATE transactions from racing each other at the driver
	// level and lets SQLITE_BUSY retries (see tx.go) reason about a single
	// serialized queue.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool, for callers (e.g. tests
// inspecting the schema) that need raw query access.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS farmers (
		id TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		completed_sales INTEGER NOT NULL DEFAULT 0,
		processor_connected_handle TEXT
	);

	CREATE TABLE IF NOT EXISTS buyers (
		id TEXT PRIMARY KEY,
		delivery_lat REAL NOT NULL,
		delivery_lon REAL NOT NULL,
		processor_customer_handle TEXT
	);

	CREATE TABLE IF NOT EXISTS middlemen (
		id TEXT PRIMARY KEY,
		current_lat REAL NOT NULL,
		current_lon REAL NOT NULL,
		truck_capacity_kg REAL NOT NULL,
		truck_plate TEXT NOT NULL,
		truck_type TEXT NOT NULL,
		service_radius_km REAL NOT NULL,
		is_available INTEGER NOT NULL DEFAULT 1,
		processor_connected_handle TEXT,
		completed_deliveries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_middlemen_available ON middlemen(is_available);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL,
		buyer_id TEXT,
		crop_type TEXT NOT NULL,
		variety TEXT NOT NULL,
		total_volume_kg TEXT NOT NULL,
		available_volume_kg TEXT NOT NULL,
		asking_price_per_kg TEXT,
		accepted_price_per_kg TEXT,
		status TEXT NOT NULL,
		requires_cold_chain INTEGER NOT NULL DEFAULT 0,
		harvest_date INTEGER,
		route_linestring TEXT,
		quality_grade TEXT,
		pickup_qr_hash TEXT,
		delivery_qr_hash TEXT,
		logistics_search_started_at INTEGER,
		settled_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (farmer_id) REFERENCES farmers(id)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_farmer ON orders(farmer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);

	CREATE TABLE IF NOT EXISTS bids (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		offered_price_per_kg TEXT NOT NULL,
		volume_kg TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		expiry INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE INDEX IF NOT EXISTS idx_bids_order ON bids(order_id);
	CREATE INDEX IF NOT EXISTS idx_bids_status ON bids(status);

	CREATE TABLE IF NOT EXISTS escrows (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		total_amount_cents INTEGER NOT NULL,
		farmer_released_cents INTEGER NOT NULL DEFAULT 0,
		middleman_released_cents INTEGER NOT NULL DEFAULT 0,
		refunded_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		processor_intent_handle TEXT,
		processor_capture_id TEXT,
		processor_pickup_transfer_id TEXT,
		processor_farmer_transfer_id TEXT,
		processor_middleman_transfer_id TEXT,
		funds_held_at INTEGER,
		picked_up_at INTEGER,
		delivered_at INTEGER,
		cancelled_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE TABLE IF NOT EXISTS logistics_assignments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		middleman_id TEXT NOT NULL,
		status TEXT NOT NULL,
		last_gps_ping_at INTEGER,
		gps_alert_sent INTEGER NOT NULL DEFAULT 0,
		estimated_distance_km REAL NOT NULL,
		offered_at INTEGER NOT NULL,
		accepted_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id),
		FOREIGN KEY (middleman_id) REFERENCES middlemen(id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_order ON logistics_assignments(order_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_middleman ON logistics_assignments(middleman_id, status);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		extra_data TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_order ON audit_log(order_id);
	`

	for _, stmt := range strings.Split(schema, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
