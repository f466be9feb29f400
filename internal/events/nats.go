package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
)

// NATSPublisher publishes record events on <prefix>.<devEUI>.record
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NATSSubject returns the subject records of devEUI are published on
func NATSSubject(prefix, devEUI string) string {
	return fmt.Sprintf("%s.%s.record", prefix, devEUI)
}

// NewNATSPublisher connects to the configured NATS server
func NewNATSPublisher(cfg config.NATSConfig, name string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix, owned: true}, nil
}

// NewNATSPublisherFromConn publishes over an existing connection, which Close leaves open
func NewNATSPublisherFromConn(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Publish sends r with its event id in the Nats-Msg-Id header
func (p *NATSPublisher) Publish(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}

	msg := nats.NewMsg(NATSSubject(p.prefix, r.DevEUI))
	msg.Header.Set(nats.MsgIdHdr, r.ID)
	msg.Data = data

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection when the publisher opened it
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
