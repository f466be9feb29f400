package storage

import (
	"context"
	"errors"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// DeviceDirectory is a read-only, ordered list of device records.
//
// ListDevices reads the whole directory on every call. Content that cannot be
// parsed is reported as ErrInvalidData; any other error means the directory
// could not be read at all.
type DeviceDirectory interface {
	ListDevices(ctx context.Context) ([]models.Device, error)

	// Close releases the underlying resources
	Close() error
}
