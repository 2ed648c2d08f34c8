package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/ponytojas/go-mqtt-hotspot/config"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// TimescaleDB handles database operations
type TimescaleDB struct {
	conn   *pgx.Conn
	config *config.Config
}

// NewTimescaleDB creates a new TimescaleDB instance
func NewTimescaleDB(ctx context.Context, cfg *config.Config) (*TimescaleDB, error) {
	conn, err := pgx.Connect(ctx, cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &TimescaleDB{
		conn:   conn,
		config: cfg,
	}, nil
}

// Close closes the database connection
func (db *TimescaleDB) Close() error {
	return db.conn.Close(context.Background())
}

// InitializeTable checks if the table exists and creates it if it doesn't
func (db *TimescaleDB) InitializeTable(ctx context.Context) error {
	tableName := pgx.Identifier{db.config.Timescale.TableName}.Sanitize()

	// Check if table exists
	var exists bool
	err := db.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, db.config.Timescale.TableName).Scan(&exists)

	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}

	if exists {
		log.Printf("Table %s already exists", tableName)
		return nil
	}

	log.Printf("Creating table %s...", tableName)
	if _, err = db.conn.Exec(ctx, createTableSQL(tableName)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Convert to hypertable
	_, err = db.conn.Exec(ctx, `SELECT create_hypertable($1::regclass, 'time')`, tableName)
	if err != nil {
		return fmt.Errorf("failed to convert table to hypertable: %w", err)
	}

	log.Printf("Table %s created and converted to hypertable", tableName)
	return nil
}

// InsertReport inserts one archived report into the database
func (db *TimescaleDB) InsertReport(ctx context.Context, rec *models.ReportRecord) error {
	tableName := pgx.Identifier{db.config.Timescale.TableName}.Sanitize()

	_, err := db.conn.Exec(ctx, insertSQL(tableName),
		rec.Timestamp, rec.DeviceID, rec.Temperature, rec.Lat, rec.Lon, rec.Hotspot, rec.Source)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	return nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE %s (
			time TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			temperature DOUBLE PRECISION,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			hotspot BOOLEAN,
			source TEXT NOT NULL
		)
	`, table)
}

func insertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (time, device_id, temperature, lat, lon, hotspot, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, table)
}
