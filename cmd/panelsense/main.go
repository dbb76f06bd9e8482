// PanelSense Gateway
//
// The gateway sits between wall-mounted PanelSense panels and a Home
// Assistant instance. Panels connect over WebSocket, authenticate with
// their installation id and secret, send light/cover/switch commands and
// receive every state change of those domains.
//
// Optionally every state change is mirrored to an MQTT broker and recorded
// in InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/dawidpodolak/panelsense-gateway/migrations"

	"github.com/dawidpodolak/panelsense-gateway/internal/api"
	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
	"github.com/dawidpodolak/panelsense-gateway/internal/bridges/homeassistant"
	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/influxdb"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/mqtt"
	"github.com/dawidpodolak/panelsense-gateway/internal/mirror"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PanelSense gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	clients := auth.NewClientRepository(db.DB)
	registry := gateway.NewRegistry()

	// Mirrors observe every event, so they exist before the broadcaster.
	var observers []gateway.Observer

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT mirror disabled")
	}

	var statePublisher *mirror.StatePublisher
	if mqttClient != nil {
		statePublisher = mirror.NewStatePublisher(mqttClient, mqttClient.Topics(), log)
		observers = append(observers, statePublisher)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := connectInfluxDB(cfg.InfluxDB, log)
		if influxErr != nil {
			return influxErr
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		observers = append(observers, mirror.NewMetricsWriter(influxClient))
	} else {
		log.Info("InfluxDB history disabled")
	}

	broadcaster := gateway.NewBroadcaster(registry, log.With("component", "broadcast"), observers...)

	pingInterval, pongTimeout := cfg.GetUpstreamKeepalive()
	upstream, err := homeassistant.New(homeassistant.Options{
		URL:              cfg.HomeAssistant.URL,
		Token:            cfg.HomeAssistant.Token,
		HandshakeTimeout: cfg.GetHandshakeTimeout(),
		PingInterval:     pingInterval,
		PongTimeout:      pongTimeout,
		InitialDelay:     time.Duration(cfg.HomeAssistant.Reconnect.InitialDelay) * time.Second,
		MaxDelay:         time.Duration(cfg.HomeAssistant.Reconnect.MaxDelay) * time.Second,
		MaxAttempts:      cfg.HomeAssistant.Reconnect.MaxAttempts,
		Handler:          broadcaster,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("creating home assistant client: %w", err)
	}

	if mqttClient != nil {
		bridge := mirror.NewCommandBridge(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), upstream, log) //nolint:gosec // qos validated 0-2
		if startErr := bridge.Start(); startErr != nil {
			return startErr
		}
		defer bridge.Stop() //nolint:errcheck // the client disconnects right after
	}

	router := gateway.NewRouter(gateway.RouterOptions{
		Registry:      registry,
		Authenticator: gateway.NewAuthenticator(clients),
		Sink:          upstream,
		Store:         clients,
		Logger:        log.With("component", "router"),
		AuthTimeout:   time.Duration(cfg.WebSocket.AuthTimeout) * time.Second,
	})

	var mqttStatus api.MQTTStatus
	if mqttClient != nil {
		mqttStatus = mqttClient
	}

	server, err := api.New(api.Deps{
		Config:       cfg.Server,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log,
		Router:       router,
		Registry:     registry,
		Broadcaster:  broadcaster,
		Configurator: gateway.NewConfigurator(clients, broadcaster, log.With("component", "configuration")),
		Upstream:     upstream,
		MQTT:         mqttStatus,
		DB:           db,
		Audit:        audit.NewSQLiteRepository(db.DB),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("panel endpoint listening", "address", server.Addr(), "path", cfg.WebSocket.Path)

	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})
	g.Go(func() error {
		return upstream.Run(gctx)
	})
	if statePublisher != nil {
		g.Go(func() error {
			return statePublisher.Run(gctx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}

	log.Info("PanelSense gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PANELSENSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PANELSENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT mirror connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"prefix", client.Topics().Prefix(),
	)
	return client, nil
}

func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})

	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}
