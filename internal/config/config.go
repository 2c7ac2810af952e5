package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const DefaultPath = "config.yaml"

type Config struct {
	App         App         `yaml:"app"`
	HTTP        HTTP        `yaml:"http"`
	Log         Log         `yaml:"log"`
	Transport   Transport   `yaml:"transport"`
	MQTT        MQTT        `yaml:"mqtt"`
	Kafka       Kafka       `yaml:"kafka"`
	Channels    Channels    `yaml:"channels"`
	Correlation Correlation `yaml:"correlation"`
	Downstream  Downstream  `yaml:"downstream"`
	Postgres    Postgres    `yaml:"postgres"`
	Redis       Redis       `yaml:"redis"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"payment-item-associator"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"9092"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// SlogLevel maps the configured level to slog, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

type Transport struct {
	Kind string `yaml:"kind" env:"TRANSPORT_KIND" env-default:"mqtt"`
}

type MQTT struct {
	BrokerAddress string        `yaml:"broker_address" env:"MQTT_BROKER_ADDRESS" env-default:"localhost"`
	Port          int           `yaml:"port" env:"MQTT_PORT" env-default:"1883"`
	Username      string        `yaml:"username" env:"MQTT_USERNAME"`
	Password      string        `yaml:"password" env:"MQTT_PASSWORD"`
	ClientID      string        `yaml:"client_id" env:"MQTT_CLIENT_ID" env-default:"payment-item-associator"`
	QoS           byte          `yaml:"qos" env:"MQTT_QOS" env-default:"1"`
	ConnectWait   time.Duration `yaml:"connect_wait" env:"MQTT_CONNECT_WAIT" env-default:"10s"`
}

// BrokerURL returns the tcp:// URL paho expects.
func (m MQTT) BrokerURL() string {
	if strings.Contains(m.BrokerAddress, "://") {
		return fmt.Sprintf("%s:%d", m.BrokerAddress, m.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", m.BrokerAddress, m.Port)
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID     string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"payment-item-associator"`
	StartOffset string   `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
}

// Channels names the two logical streams. The payment topic is namespaced per
// device: PaymentTopic + DeviceSeparator + DeviceID.
type Channels struct {
	ItemTopic       string `yaml:"topic_item" env:"TOPIC_ITEM" env-default:"items"`
	PaymentTopic    string `yaml:"topic_payment" env:"TOPIC_PAYMENT" env-default:"payments"`
	DeviceID        string `yaml:"rpi_id" env:"DEVICE_ID" env-default:"rpi-01"`
	DeviceSeparator string `yaml:"device_separator" env:"DEVICE_SEPARATOR" env-default:"/"`
}

func (c Channels) DevicePaymentTopic() string {
	if c.DeviceID == "" {
		return c.PaymentTopic
	}
	return c.PaymentTopic + c.DeviceSeparator + c.DeviceID
}

type Correlation struct {
	PollInterval       time.Duration `yaml:"poll_interval" env:"CORRELATION_POLL_INTERVAL" env-default:"200ms"`
	PaymentClockOffset time.Duration `yaml:"payment_clock_offset" env:"CORRELATION_PAYMENT_CLOCK_OFFSET" env-default:"2h"`
	MaxPendingAge      time.Duration `yaml:"max_pending_age" env:"CORRELATION_MAX_PENDING_AGE" env-default:"0s"`
	ShutdownSettle     time.Duration `yaml:"shutdown_settle" env:"CORRELATION_SHUTDOWN_SETTLE" env-default:"1s"`
}

type Downstream struct {
	BaseURL          string        `yaml:"magic_loop_server_url" env:"DOWNSTREAM_BASE_URL" env-default:"http://localhost:8080"`
	AssociationRoute string        `yaml:"item_association_route" env:"DOWNSTREAM_ASSOCIATION_ROUTE" env-default:"/api/transactions/items"`
	Timeout          time.Duration `yaml:"timeout" env:"DOWNSTREAM_TIMEOUT" env-default:"10s"`
	Breaker          Breaker       `yaml:"breaker"`
}

type Breaker struct {
	Enabled             bool          `yaml:"enabled" env:"DOWNSTREAM_BREAKER_ENABLED" env-default:"false"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"DOWNSTREAM_BREAKER_CONSECUTIVE_FAILURES" env-default:"5"`
	OpenTimeout         time.Duration `yaml:"open_timeout" env:"DOWNSTREAM_BREAKER_OPEN_TIMEOUT" env-default:"30s"`
}

type Postgres struct {
	Enabled  bool   `yaml:"enabled" env:"POSTGRES_ENABLED" env-default:"false"`
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"associations"`
}

type Redis struct {
	Enabled       bool   `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr          string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password      string `yaml:"password" env:"REDIS_PASSWORD"`
	DB            int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DeadLetterKey string `yaml:"dead_letter_key" env:"REDIS_DEAD_LETTER_KEY" env-default:"associator:dead_letters"`
}

// New loads path (DefaultPath when empty). A missing file falls back to env
// vars; env vars always override the file.
func New(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMQTT, TransportKafka:
	default:
		return fmt.Errorf("config error: unknown transport kind %q", c.Transport.Kind)
	}
	if c.Correlation.PollInterval <= 0 {
		return fmt.Errorf("config error: correlation poll interval must be positive")
	}
	if c.Downstream.Timeout <= 0 {
		return fmt.Errorf("config error: downstream timeout must be positive")
	}
	if c.Channels.ItemTopic == c.Channels.DevicePaymentTopic() {
		return fmt.Errorf("config error: item and payment topics must differ")
	}
	return nil
}
