package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Device directory sources
const (
	DeviceSourceFile     = "file"
	DeviceSourcePostgres = "postgres"
)

// Config represents the bridge configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Ops     OpsConfig     `yaml:"ops"`
	TrapNZ  TrapNZConfig  `yaml:"trapnz"`
	Devices DevicesConfig `yaml:"devices"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig represents server identification
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// GatewayConfig represents the webhook listener configuration
type GatewayConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	// WebhookSecretHash is a bcrypt hash of the X-Webhook-Secret value, empty disables the check
	WebhookSecretHash string `yaml:"webhook_secret_hash"`
}

// OpsConfig represents the health and metrics listener, Port 0 disables it
type OpsConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TrapNZConfig represents the Trap.NZ API configuration
type TrapNZConfig struct {
	BaseURL     string        `yaml:"base_url"`
	RecordsPath string        `yaml:"records_path"`
	TokenPath   string        `yaml:"token_path"`
	Timeout     time.Duration `yaml:"timeout"`
	Auth        AuthConfig    `yaml:"auth"`
}

// AuthConfig represents Trap.NZ API credentials.
// Either Authorization is set, or all of the password grant fields are.
type AuthConfig struct {
	Authorization string `yaml:"authorization"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
}

// IsStatic reports whether a fixed authorization value is configured
func (a AuthConfig) IsStatic() bool {
	return a.Authorization != ""
}

// DevicesConfig represents the device directory configuration
type DevicesConfig struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
	DSN    string `yaml:"dsn"`
}

// EventsConfig represents the optional record mirrors
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// NATSConfig represents NATS configuration, an empty URL disables it
type NATSConfig struct {
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT configuration, an empty broker URL disables it
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file.
// An empty filename builds the configuration from defaults and environment only.
func Load(filename string) (*Config, error) {
	var cfg Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Gateway.Port = p
	}

	if apiURL := os.Getenv("TRAP_API_URL"); apiURL != "" {
		c.TrapNZ.BaseURL = apiURL
	}

	if deviceFile := os.Getenv("DEVICE_FILE"); deviceFile != "" {
		c.Devices.File = deviceFile
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Devices.DSN = dsn
	}

	overrides := map[string]*string{
		"TRAP_API_AUTHORIZATION": &c.TrapNZ.Auth.Authorization,
		"TRAP_API_CLIENT_ID":     &c.TrapNZ.Auth.ClientID,
		"TRAP_API_CLIENT_SECRET": &c.TrapNZ.Auth.ClientSecret,
		"TRAP_API_USERNAME":      &c.TrapNZ.Auth.Username,
		"TRAP_API_PASSWORD":      &c.TrapNZ.Auth.Password,
		"NATS_URL":               &c.Events.NATS.URL,
		"MQTT_URL":               &c.Events.MQTT.BrokerURL,
		"LOG_LEVEL":              &c.Log.Level,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	return nil
}

// setDefaults fills unset values
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "ttn-trapnz-bridge"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8080
	}
	if c.Gateway.MaxBodyBytes == 0 {
		c.Gateway.MaxBodyBytes = 100_000
	}
	if c.TrapNZ.RecordsPath == "" {
		c.TrapNZ.RecordsPath = "/sensor-records"
	}
	if c.TrapNZ.TokenPath == "" {
		c.TrapNZ.TokenPath = "/oauth/token"
	}
	if c.TrapNZ.Timeout == 0 {
		c.TrapNZ.Timeout = 30 * time.Second
	}
	if c.Devices.Source == "" {
		c.Devices.Source = DeviceSourceFile
		// A database URL alone selects the postgres directory
		if c.Devices.File == "" && c.Devices.DSN != "" {
			c.Devices.Source = DeviceSourcePostgres
		}
	}
	if c.Events.NATS.SubjectPrefix == "" {
		c.Events.NATS.SubjectPrefix = "trapnz.sensor"
	}
	if c.Events.NATS.MaxReconnects == 0 {
		c.Events.NATS.MaxReconnects = 60
	}
	if c.Events.NATS.ReconnectInterval == 0 {
		c.Events.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Events.MQTT.TopicPrefix == "" {
		c.Events.MQTT.TopicPrefix = "trapnz/sensor"
	}
	if c.Events.MQTT.ClientID == "" {
		c.Events.MQTT.ClientID = c.Server.Name
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks the configuration is usable
func (c *Config) validate() error {
	if c.TrapNZ.BaseURL == "" {
		return errors.New("trapnz.base_url is required")
	}

	if !c.TrapNZ.Auth.IsStatic() {
		a := c.TrapNZ.Auth
		if a.ClientID == "" || a.ClientSecret == "" || a.Username == "" || a.Password == "" {
			return errors.New("trapnz.auth requires either authorization or client_id, client_secret, username and password")
		}
	}

	switch c.Devices.Source {
	case DeviceSourceFile:
		if c.Devices.File == "" {
			return errors.New("devices.file is required for the file source")
		}
	case DeviceSourcePostgres:
		if c.Devices.DSN == "" {
			return errors.New("devices.dsn is required for the postgres source")
		}
	default:
		return fmt.Errorf("invalid devices.source: %s", c.Devices.Source)
	}

	if c.Events.MQTT.QoS > 2 {
		return fmt.Errorf("invalid events.mqtt.qos: %d", c.Events.MQTT.QoS)
	}

	return nil
}

// GatewayAddr returns the webhook listen address
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// OpsAddr returns the ops listen address, empty when disabled
func (c *Config) OpsAddr() string {
	if c.Ops.Port == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Ops.Host, c.Ops.Port)
}
