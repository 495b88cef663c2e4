package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"entitybridge/internal/api"
	"entitybridge/internal/clock"
	"entitybridge/internal/config"
	"entitybridge/internal/core"
	"entitybridge/internal/mqtt"
	"entitybridge/internal/platforms/mqttselect"
	"entitybridge/internal/platforms/restbinary"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configPath := os.Getenv("BRIDGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	loader := config.NewLoader(configPath, logger)
	if err := loader.Load(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := loader.Get()

	// Environment overrides for broker credentials
	if url := os.Getenv("MQTT_URL"); url != "" {
		cfg.MQTT.URL = url
	}
	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		cfg.MQTT.Username = username
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		cfg.MQTT.Password = password
	}

	logger.Info("Starting entity bridge",
		zap.String("broker", cfg.MQTT.URL),
		zap.Int("api_port", cfg.API.Port))

	machine := core.NewMachine(logger)
	registry := core.NewRegistry()
	bus := core.NewBus(logger)

	restore := core.NewRestoreCache(cfg.RestorePath, logger)
	if err := restore.Load(); err != nil {
		logger.Warn("Failed to load restore cache", zap.Error(err))
	}
	machine.Subscribe(core.WildcardEntity, restore.HandleStateChange)

	broker := mqtt.NewBroker(mqtt.Options{
		URL:      cfg.MQTT.URL,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger)
	if err := broker.Connect(); err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer broker.Disconnect()

	logger.Info("Connected to MQTT broker")

	// MQTT select platform
	selects := mqttselect.NewPlatform(machine, registry, broker, restore, logger)
	selects.RegisterServices(bus)
	for _, entity := range cfg.Select {
		if _, err := selects.AddEntity(entity); err != nil {
			logger.Error("Failed to add select entity",
				zap.String("name", entity.Name),
				zap.Error(err))
		}
	}

	if cfg.MQTT.DiscoveryEnabled() {
		watcher := mqttselect.NewDiscoveryWatcher(selects, broker, cfg.MQTT.DiscoveryPrefix, logger)
		if err := watcher.Start(); err != nil {
			logger.Fatal("Failed to start MQTT discovery", zap.Error(err))
		}
		defer watcher.Stop()
	}

	// REST binary sensor platform
	sensors := restbinary.NewPlatform(machine, registry, clock.NewRealClock(), logger)
	sensors.RegisterServices(bus)
	sensors.SetConfigProvider(loader.RestBinarySensors)
	for _, sensor := range cfg.RestBinarySensor {
		if _, err := sensors.AddEntity(context.Background(), sensor); err != nil {
			logger.Error("Failed to add REST binary sensor",
				zap.String("name", sensor.Name),
				zap.Error(err))
		}
	}

	server := api.NewServer(machine, bus, logger, cfg.API.Port)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer server.Stop()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Entity bridge running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
}
