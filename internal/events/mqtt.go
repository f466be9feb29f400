package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	// quiesce period for Disconnect, in milliseconds
	mqttQuiesce = 250
)

// MQTTPublisher publishes record events on <prefix>/<devEUI>/record
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// MQTTTopic returns the topic records of devEUI are published on
func MQTTTopic(prefix, devEUI string) string {
	return fmt.Sprintf("%s/%s/record", prefix, devEUI)
}

// NewMQTTPublisher connects to the configured broker
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.New("connect to mqtt broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}

	return NewMQTTPublisherFromClient(client, cfg.TopicPrefix, cfg.QoS), nil
}

// NewMQTTPublisherFromClient publishes with an already connected client
func NewMQTTPublisherFromClient(client mqtt.Client, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos}
}

// Publish sends r and waits for the publish to complete
func (p *MQTTPublisher) Publish(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}

	topic := MQTTTopic(p.prefix, r.DevEUI)

	ctx, cancel := context.WithTimeout(ctx, mqttPublishTimeout)
	defer cancel()

	token := p.client.Publish(topic, p.qos, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(mqttQuiesce)
	}
	return nil
}
