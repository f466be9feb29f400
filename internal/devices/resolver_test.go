package devices_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/devices"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/storage"
)

type directoryStub struct {
	devices []models.Device
	err     error
	calls   int
}

func (d *directoryStub) ListDevices(ctx context.Context) ([]models.Device, error) {
	d.calls++
	return d.devices, d.err
}

func (d *directoryStub) Close() error { return nil }

func TestResolve(t *testing.T) {
	valid := []models.Device{
		{DevEUI: "0004A30B001C0530", TrapNZID: "trap-1", Timeout: 3600},
		{DevEUI: "0004A30B001C0531", TrapNZID: "trap-2", Timeout: 60},
		{DevEUI: "0004A30B001C0530", TrapNZID: "trap-dup", Timeout: 10},
	}
	blank := models.Device{DevEUI: "0004A30B001C0532", TrapNZID: "", Timeout: 1}

	cases := []struct {
		desc    string
		devices []models.Device
		listErr error
		devEUI  string
		device  models.Device
		err     error
	}{
		{
			desc:    "known device",
			devices: valid,
			devEUI:  "0004A30B001C0531",
			device:  valid[1],
		},
		{
			desc:    "first match wins",
			devices: valid,
			devEUI:  "0004A30B001C0530",
			device:  valid[0],
		},
		{
			desc:    "match is case sensitive",
			devices: valid,
			devEUI:  "0004a30b001c0530",
			err:     devices.ErrNotFound,
		},
		{
			desc:    "unknown device",
			devices: valid,
			devEUI:  "FFFFFFFFFFFFFFFF",
			err:     devices.ErrNotFound,
		},
		{
			desc:    "empty directory",
			devices: nil,
			devEUI:  "0004A30B001C0530",
			err:     devices.ErrNotFound,
		},
		{
			desc:    "empty trapnz id does not hide other devices",
			devices: append([]models.Device{blank}, valid...),
			devEUI:  "0004A30B001C0531",
			device:  valid[1],
		},
		{
			desc:    "empty trapnz id resolves",
			devices: append([]models.Device{blank}, valid...),
			devEUI:  "0004A30B001C0532",
			device:  blank,
		},
		{
			desc:    "empty dev eui matches verbatim",
			devices: []models.Device{{DevEUI: "", TrapNZID: "trap-0", Timeout: -1}},
			devEUI:  "",
			device:  models.Device{DevEUI: "", TrapNZID: "trap-0", Timeout: -1},
		},
		{
			desc:    "unparsable directory",
			listErr: fmt.Errorf("%w: parse device file", storage.ErrInvalidData),
			devEUI:  "0004A30B001C0530",
			err:     devices.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			dir := &directoryStub{devices: tc.devices, err: tc.listErr}
			r := devices.NewResolver(dir)

			device, err := r.Resolve(context.Background(), tc.devEUI)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.device, device)
		})
	}
}

func TestResolveReadFailure(t *testing.T) {
	readErr := errors.New("permission denied")
	r := devices.NewResolver(&directoryStub{err: readErr})

	_, err := r.Resolve(context.Background(), "0004A30B001C0530")
	assert.ErrorIs(t, err, readErr)
	assert.NotErrorIs(t, err, devices.ErrNotFound)
}

func TestResolveReadsEveryTime(t *testing.T) {
	dir := &directoryStub{devices: []models.Device{{DevEUI: "01", TrapNZID: "trap-1"}}}
	r := devices.NewResolver(dir)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "01")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, dir.calls)
}
