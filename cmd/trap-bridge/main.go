package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lorawan-server/ttn-trapnz-bridge/internal/api"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/auth"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/config"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/devices"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/events"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/integration"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/storage"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/uplink"
	"github.com/lorawan-server/ttn-trapnz-bridge/internal/validation"
	"github.com/lorawan-server/ttn-trapnz-bridge/pkg/crypto"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// Command line flags
	var (
		configFile     string
		hashSecret     string
		generateSecret bool
	)
	flag.StringVar(&configFile, "config", "", "Configuration file path, empty to configure from the environment only")
	flag.StringVar(&hashSecret, "hash-secret", "", "Print the bcrypt hash of a webhook secret and exit")
	flag.BoolVar(&generateSecret, "generate-secret", false, "Print a random webhook secret and its bcrypt hash and exit")
	flag.Parse()

	if hashSecret != "" || generateSecret {
		if err := printSecret(hashSecret); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = version
	}

	setupLogging(cfg.Log)

	directory, err := openDirectory(cfg.Devices)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open device directory")
	}
	defer directory.Close()

	records, err := integration.NewTrapNZClient(&cfg.TrapNZ, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Trap.NZ API configuration")
	}

	validator := validation.NewValidator()
	tokens := auth.NewTokenManager(&cfg.TrapNZ)

	mirror := openMirror(cfg)
	defer mirror.Close()

	opts := []uplink.Option{}
	if mirror.Len() > 0 {
		opts = append(opts, uplink.WithEvents(mirror))
	}
	processor := uplink.NewProcessor(validator, devices.NewResolver(directory), tokens, records, opts...)

	webhook := api.NewWebhookServer(cfg, processor)

	var ops *api.OpsServer
	if addr := cfg.OpsAddr(); addr != "" {
		ops = api.NewOpsServer(cfg)
		ops.AddCheck("devices", func(ctx context.Context) error {
			_, err := directory.ListDevices(ctx)
			return err
		})
	}

	log.Info().
		Str("name", cfg.Server.Name).
		Str("version", cfg.Server.Version).
		Str("devices", cfg.Devices.Source).
		Str("records", records.Endpoint()).
		Bool("staticAuthorization", cfg.TrapNZ.Auth.IsStatic()).
		Msg("Starting Trap.NZ bridge")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		if err := webhook.ListenAndServe(cfg.GatewayAddr()); err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	if ops != nil {
		g.Go(func() error {
			if err := ops.ListenAndServe(cfg.OpsAddr()); err != nil {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := webhook.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown webhook server gracefully")
		}
		if ops != nil {
			if err := ops.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown ops server gracefully")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Server closed")
}

// setupLogging applies the configured level and output format
func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Loggers fetched from a context without one fall back to the global logger
	zerolog.DefaultContextLogger = &log.Logger
}

// openDirectory opens the configured device directory
func openDirectory(cfg config.DevicesConfig) (storage.DeviceDirectory, error) {
	switch cfg.Source {
	case config.DeviceSourcePostgres:
		dir, err := storage.NewPostgresDirectory(cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Connected to device database")
		return dir, nil
	default:
		log.Info().Str("file", cfg.File).Msg("Using device file")
		return storage.NewFileDirectory(cfg.File), nil
	}
}

// openMirror connects the configured event transports. A transport that
// cannot connect is skipped so the bridge keeps forwarding records.
func openMirror(cfg *config.Config) *events.Mirror {
	mirror := events.NewMirror()

	if cfg.Events.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATS, cfg.Server.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			log.Info().Str("url", cfg.Events.NATS.URL).Msg("Connected to NATS")
			mirror.Add("nats", p)
		}
	}

	if cfg.Events.MQTT.BrokerURL != "" {
		p, err := events.NewMQTTPublisher(cfg.Events.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, continuing without MQTT support")
		} else {
			mirror.Add("mqtt", p)
		}
	}

	return mirror
}

// printSecret prints the bcrypt hash of secret, generating a secret when it is empty
func printSecret(secret string) error {
	if secret == "" {
		generated, err := crypto.GenerateSecret(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		secret = generated
		fmt.Println("secret:", secret)
	}

	hash, err := crypto.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println("webhook_secret_hash:", hash)
	return nil
}
