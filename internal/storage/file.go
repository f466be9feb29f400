package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
)

// FileDirectory reads devices from a JSON array on disk
type FileDirectory struct {
	path string
}

// NewFileDirectory creates a directory backed by the JSON file at path
func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

// ListDevices reads and parses the device file
func (d *FileDirectory) ListDevices(ctx context.Context) ([]models.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: device file %s", ErrNotFound, d.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read device file: %w", err)
	}

	var records []fileDevice
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse device file: %v", ErrInvalidData, err)
	}

	devices := make([]models.Device, 0, len(records))
	for i, rec := range records {
		if field := rec.missing(); field != "" {
			return nil, fmt.Errorf("%w: device %d has no %s", ErrInvalidData, i, field)
		}
		devices = append(devices, models.Device{
			DevEUI:   *rec.DevEUI,
			TrapNZID: *rec.TrapNZID,
			Timeout:  *rec.Timeout,
		})
	}

	return devices, nil
}

// fileDevice is a device file entry, every field must be present
type fileDevice struct {
	DevEUI   *string  `json:"dev_eui"`
	TrapNZID *string  `json:"trapnz_id"`
	Timeout  *float64 `json:"timeout"`
}

// missing returns the name of the first absent field, or ""
func (d fileDevice) missing() string {
	switch {
	case d.DevEUI == nil:
		return "dev_eui"
	case d.TrapNZID == nil:
		return "trapnz_id"
	case d.Timeout == nil:
		return "timeout"
	}
	return ""
}

// Close implements DeviceDirectory
func (d *FileDirectory) Close() error {
	return nil
}
