package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EngineNative  = "native"
	EngineProcess = "process"
)

type Config struct {
	Port          string
	DBPath        string
	SessionSecret string
	StaffAPIKey   string
	DeviceAPIKey  string

	LogToConsole bool
	LogFile      string
	LogLevel     string

	PTTEngine        string
	PTTEngineCommand string
	PTTEngineArgs    []string
	PTTEngineTimeout time.Duration

	HousekeepingInterval time.Duration
	StaleSlotAfter       time.Duration

	KafkaEnabled  bool
	KafkaBrokers  string
	DeviceTopic   string
	ResultsTopic  string
	ConsumerGroup string

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

// LoadConfig reads .env when present and then the environment. It reports
// whether a .env file was found so the caller can log it once logging is up.
func LoadConfig() (*Config, bool, error) {
	envLoaded := godotenv.Load() == nil

	cfg := &Config{
		Port:          getEnv("PORT", "5000"),
		DBPath:        getEnv("DB_PATH", "vitalsync.db"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		StaffAPIKey:   getEnv("STAFF_API_KEY", ""),
		DeviceAPIKey:  getEnv("DEVICE_API_KEY", ""),

		LogToConsole: getBool("LOG_TO_CONSOLE", false),
		LogFile:      getEnv("LOG_FILE", "./logs/vitalsync.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		PTTEngine:        strings.ToLower(getEnv("PTT_ENGINE", EngineNative)),
		PTTEngineCommand: getEnv("PTT_ENGINE_COMMAND", ""),
		PTTEngineArgs:    splitList(getEnv("PTT_ENGINE_ARGS", "")),

		KafkaEnabled:  getBool("KAFKA_ENABLED", false),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", "localhost:9092"),
		DeviceTopic:   getEnv("DEVICE_TOPIC", "vitalsync-device-data"),
		ResultsTopic:  getEnv("RESULTS_TOPIC", "vitalsync-results"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "vitalsync"),

		MQTTEnabled:     getBool("MQTT_ENABLED", false),
		MQTTBroker:      getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "vitalsync_local"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: strings.Trim(getEnv("MQTT_TOPIC_PREFIX", "vitalsync"), "/"),
	}

	var err error
	if cfg.PTTEngineTimeout, err = getDuration("PTT_ENGINE_TIMEOUT", 30*time.Second); err != nil {
		return nil, envLoaded, err
	}
	if cfg.HousekeepingInterval, err = getDuration("HOUSEKEEPING_INTERVAL", time.Minute); err != nil {
		return nil, envLoaded, err
	}
	if cfg.StaleSlotAfter, err = getDuration("STALE_SLOT_AFTER", 5*time.Minute); err != nil {
		return nil, envLoaded, err
	}

	switch cfg.PTTEngine {
	case EngineNative:
	case EngineProcess:
		if cfg.PTTEngineCommand == "" {
			return nil, envLoaded, fmt.Errorf("PTT_ENGINE=process requires PTT_ENGINE_COMMAND")
		}
	default:
		return nil, envLoaded, fmt.Errorf("unknown PTT_ENGINE %q", cfg.PTTEngine)
	}
	return cfg, envLoaded, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.EqualFold(value, "true")
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
