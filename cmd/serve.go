package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vitalsync/internal/bp"
	"vitalsync/internal/config"
	"vitalsync/internal/database"
	"vitalsync/internal/handler"
	"vitalsync/internal/logging"
	"vitalsync/internal/notify"
	"vitalsync/internal/session"
)

const shutdownTimeout = 10 * time.Second

func runServe(parent context.Context) error {
	cfg, envLoaded, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, ToConsole: cfg.LogToConsole})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting vitalsync service...")
	if !envLoaded {
		log.Info("No .env file found, using environment variables or default values")
	}
	logConfiguration(log, cfg)

	if cfg.SessionSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		cfg.SessionSecret = hex.EncodeToString(secret)
		log.Warn("SESSION_SECRET not set, using a random secret; sessions will not survive a restart")
	}

	repo, err := database.NewRepository(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	registry := session.NewRegistry(repo, log)

	if cfg.KafkaEnabled {
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers, log)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		defer func() {
			producer.Flush(int(shutdownTimeout / time.Millisecond))
			producer.Close()
		}()
		registry.AddNotifier(notify.NewKafkaPublisher(producer, cfg.ResultsTopic, log))
	}

	var engine bp.ComputationEngine = bp.NewNativeEngine()
	if cfg.PTTEngine == config.EngineProcess {
		engine = bp.NewProcessEngine(cfg.PTTEngineCommand, cfg.PTTEngineArgs, cfg.PTTEngineTimeout)
	}
	bridge := bp.NewBridge(engine, log)
	pipeline := bp.NewPipeline(registry, bridge, log)
	device := handler.NewDeviceService(registry, pipeline, log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MQTTEnabled {
		client := handler.NewMQTTClient(handler.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, handler.NewControlHandler(device, log), log)
		registry.AddNotifier(notify.NewMQTTPublisher(client, cfg.MQTTTopicPrefix, log))

		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to initialize MQTT client: %w", token.Error())
		}
		defer client.Disconnect(250)
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		bridge.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		registry.RunHousekeepingCycle(ctx, cfg.HousekeepingInterval, cfg.StaleSlotAfter)
	}()

	if cfg.KafkaEnabled {
		router := handler.NewDeviceRouter(device, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := handler.RunConsumer(ctx, handler.ConsumerConfig{
				Brokers: cfg.KafkaBrokers,
				Group:   cfg.ConsumerGroup,
				Topic:   cfg.DeviceTopic,
			}, router.RouteDeviceMessage, log)
			if err != nil {
				log.Error("Device consumer stopped", zap.Error(err))
			}
		}()
	}

	measurements := handler.NewMeasurementHandler(registry, device, repo, log)
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handler.Setup(handler.RouterConfig{
			SessionSecret: cfg.SessionSecret,
			StaffAPIKey:   cfg.StaffAPIKey,
			DeviceAPIKey:  cfg.DeviceAPIKey,
		}, measurements, repo, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("Service started successfully. Waiting for requests...")

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, closing services...")
	case err = <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	wg.Wait()
	log.Info("All services closed. Exiting.")
	return err
}

func logConfiguration(log *zap.Logger, cfg *config.Config) {
	log.Info("Service configuration",
		zap.String("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("ptt_engine", cfg.PTTEngine),
		zap.String("ptt_engine_command", cfg.PTTEngineCommand),
		zap.Duration("ptt_engine_timeout", cfg.PTTEngineTimeout),
		zap.Duration("housekeeping_interval", cfg.HousekeepingInterval),
		zap.Duration("stale_slot_after", cfg.StaleSlotAfter),
		zap.Bool("kafka_enabled", cfg.KafkaEnabled),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.Bool("mqtt_enabled", cfg.MQTTEnabled),
		zap.String("mqtt_broker", cfg.MQTTBroker),
		zap.String("session_secret", setOrNot(cfg.SessionSecret)),
		zap.String("staff_api_key", setOrNot(cfg.StaffAPIKey)),
		zap.String("device_api_key", setOrNot(cfg.DeviceAPIKey)),
		zap.String("mqtt_password", setOrNot(cfg.MQTTPassword)),
	)
}

func setOrNot(secret string) string {
	if secret != "" {
		return "[SET]"
	}
	return "[NOT SET]"
}
