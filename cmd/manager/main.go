package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "venuszero/internal/adapter/actor"
	"venuszero/internal/adapter/battery"
	"venuszero/internal/adapter/sched"
	"venuszero/internal/adapter/sensor"
	"venuszero/internal/adapter/store"
	"venuszero/internal/config"
	"venuszero/internal/core/actor"
	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"
	"venuszero/internal/core/service"
	"venuszero/internal/server"
	"venuszero/internal/util/actorutil"
	"venuszero/pkg/venus_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting venuszero", zap.String("version", versioninfo.Short()))

	// battery handles over open modbus connections
	handles, err := connectBatteries(cfg, logger)
	if err != nil {
		logger.Error("battery connection failed", zap.Error(err))
		return
	}

	// persistent state
	fileStore, err := store.NewFileStore(cfg.StateDir, logger)
	if err != nil {
		logger.Error("state store init failed", zap.Error(err))
		return
	}

	// MQTT-backed external sensors, bound once the connection is up
	sensors := sensor.CreateMQTTSensorReader(cfg.Sensors, logger)
	notifier := sensor.CreateMQTTNotifier(logger)

	controller, history, err := service.NewControllerFromConfig(cfg, handles, sensors, notifier, fileStore, logger)
	if err != nil {
		logger.Error("controller wiring failed", zap.Error(err))
		return
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, func() *adactor.MQTTActor {
			return adactor.NewMQTTActor(cfg, sensors, notifier, logger)
		}, func(mqttActor *pactor.PID) pactor.Actor {
			return actor.NewControlActor(cfg, controller, history, fileStore, mqttActor, logger)
		}, func(mqttActor *pactor.PID) pactor.Actor {
			return actor.NewTelemetryActor(cfg, handles, mqttActor, logger)
		}, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	// daily consumption capture
	capture, err := sched.NewDailyCaptureScheduler(logger)
	if err != nil {
		logger.Error("scheduler init failed", zap.Error(err))
		return
	}
	controlPID := pactor.NewPID(as.Address(), fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_CONTROL))
	if err := capture.Start(ctx, controlPID); err != nil {
		logger.Error("scheduler start failed", zap.Error(err))
		return
	}
	defer capture.Stop()

	apiServer := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(apiServer, done)

	err = apiServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func connectBatteries(cfg *config.Config, logger *zap.Logger) ([]port.BatteryHandle, error) {
	handles := make([]port.BatteryHandle, 0, len(cfg.Batteries))
	for _, bc := range cfg.Batteries {
		client, err := venus_modbus.CreateVenusModbusClient(bc.Name, bc.Host, bc.Port, bc.Version,
			1*time.Second, logger, nil)
		if err != nil {
			return nil, fmt.Errorf("battery %s: %w", bc.Name, err)
		}
		if err := client.Open(); err != nil {
			return nil, fmt.Errorf("battery %s: %w", bc.Name, err)
		}
		handles = append(handles, battery.NewHandle(client, bc, logger))
	}
	return handles, nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => VENUSZERO_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("VENUSZERO_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("venuszero")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check bounds
	if len(cfg.Batteries) == 0 {
		return nil, errors.New("at least one battery must be configured")
	}
	for _, b := range cfg.Batteries {
		if b.Name == "" || b.Host == "" {
			return nil, errors.New("every battery needs a name and a host")
		}
		if b.Version != "v2" && b.Version != "v3" {
			return nil, fmt.Errorf("battery %s: version must be v2 or v3", b.Name)
		}
		if b.MinSOC < 0 || b.MaxSOC > 100 || b.MinSOC >= b.MaxSOC {
			return nil, fmt.Errorf("battery %s: soc limits out of range", b.Name)
		}
	}
	if cfg.Control.IntervalMillis < 1000 {
		return nil, errors.New("config param control.interval_millis should be >= 1000ms")
	}
	if cfg.Control.TelemetryPollMillis < 500 {
		return nil, errors.New("config param control.telemetry_poll_millis should be >= 500ms")
	}
	if cfg.Control.IntegralDecay <= 0 || cfg.Control.IntegralDecay > 1 {
		return nil, errors.New("config param control.integral_decay should be in (0, 1]")
	}
	if cfg.Control.MaxPowerChangeWatt <= 0 {
		return nil, errors.New("config param control.max_power_change should be > 0")
	}
	if cfg.Predictive.HistoryDays < 1 {
		return nil, errors.New("config param predictive.history_days should be >= 1")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.base_topic", "venuszero")
	viper.SetDefault("control.interval_millis", 2000)
	viper.SetDefault("control.telemetry_poll_millis", 1500)
	viper.SetDefault("control.kp", 0.65)
	viper.SetDefault("control.ki", 0.0)
	viper.SetDefault("control.kd", 0.5)
	viper.SetDefault("control.integral_decay", 0.9)
	viper.SetDefault("control.deadband", 40)
	viper.SetDefault("control.max_power_change", 800)
	viper.SetDefault("control.direction_hysteresis", 60)
	viper.SetDefault("control.allocation_step", 5)
	viper.SetDefault("control.oscillation_threshold", 3)
	viper.SetDefault("control.sensor_history_size", 2)
	viper.SetDefault("predictive.contracted_power", 4600)
	viper.SetDefault("predictive.default_base_consumption_kwh", 5.0)
	viper.SetDefault("predictive.min_credible_consumption_kwh", 1.5)
	viper.SetDefault("predictive.soc_reevaluation_threshold", 30)
	viper.SetDefault("predictive.history_days", 7)
	viper.SetDefault("weekly_charge.weekday", "sunday")
	viper.SetDefault("state_dir", "/var/lib/venuszero")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
