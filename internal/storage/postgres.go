package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
)

const listDevicesQuery = `
        SELECT dev_eui, trapnz_id, timeout
        FROM devices
        ORDER BY position, dev_eui`

// PostgresDirectory reads devices from the devices table
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgreSQL device directory
func NewPostgresDirectory(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresDirectory{db: db}, nil
}

// NewPostgresDirectoryFromDB wraps an existing connection pool
func NewPostgresDirectoryFromDB(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Close closes the database connection
func (d *PostgresDirectory) Close() error {
	return d.db.Close()
}

// ListDevices reads every row of the devices table
func (d *PostgresDirectory) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := d.db.QueryContext(ctx, listDevicesQuery)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var (
			device  models.Device
			timeout sql.NullFloat64
		)
		if err := rows.Scan(&device.DevEUI, &device.TrapNZID, &timeout); err != nil {
			return nil, fmt.Errorf("%w: scan device: %v", ErrInvalidData, err)
		}
		if !timeout.Valid {
			return nil, fmt.Errorf("%w: device %s has no timeout", ErrInvalidData, device.DevEUI)
		}
		device.Timeout = timeout.Float64
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}
