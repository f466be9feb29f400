package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/metrics"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/models"
)

// CorrelationHeader carries a per-request id to the Trap.NZ API
const CorrelationHeader = "X-Correlation-ID"

// TrapNZClient posts sensor records to the Trap.NZ API
type TrapNZClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewTrapNZClient creates a client for the configured records endpoint.
// A nil httpClient uses one with the configured timeout.
func NewTrapNZClient(cfg *config.TrapNZConfig, httpClient *http.Client) (*TrapNZClient, error) {
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + cfg.RecordsPath
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse records endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("records endpoint %q is not an absolute URL", endpoint)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &TrapNZClient{
		endpoint:   u.String(),
		httpClient: httpClient,
	}, nil
}

// Endpoint returns the sensor records URL
func (c *TrapNZClient) Endpoint() string {
	return c.endpoint
}

// CreateSensorRecord posts one record and returns the response status.
// A transport failure returns an error and status 0; any HTTP status is returned without error.
func (c *TrapNZClient) CreateSensorRecord(ctx context.Context, record models.SensorRecord, authorization string) (int, error) {
	logger := zerolog.Ctx(ctx)

	body, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal sensor record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create sensor record request: %w", err)
	}

	correlationID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SensorRecords.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("post sensor record: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	metrics.SensorRecords.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	logger.Debug().
		Str("sensorID", record.SensorID).
		Str("correlationID", correlationID).
		Int("status", resp.StatusCode).
		Msg("Sensor record sent to Trap.NZ")

	return resp.StatusCode, nil
}
