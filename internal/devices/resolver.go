package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/storage"
)

// ErrNotFound is returned when no device matches the DevEUI
var ErrNotFound = errors.New("device not found")

// Resolver finds the Trap.NZ sensor for a DevEUI.
// There is no caching, every lookup reads the directory.
type Resolver struct {
	directory storage.DeviceDirectory
}

// NewResolver creates a resolver over the given directory
func NewResolver(directory storage.DeviceDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the first device whose DevEUI equals devEUI.
//
// A directory with unparsable content or any incomplete record is treated as
// empty and yields ErrNotFound. Errors reading the directory are returned.
func (r *Resolver) Resolve(ctx context.Context, devEUI string) (models.Device, error) {
	logger := zerolog.Ctx(ctx)

	devices, err := r.directory.ListDevices(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidData) {
			logger.Info().Err(err).Msg("Error parsing device directory")
			return models.Device{}, ErrNotFound
		}
		return models.Device{}, fmt.Errorf("list devices: %w", err)
	}

	for _, device := range devices {
		if device.DevEUI == devEUI {
			return device, nil
		}
	}

	return models.Device{}, ErrNotFound
}
