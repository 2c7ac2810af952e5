package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/config"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/kafka"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/mqtt"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/postgres"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/redis"
	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"
)

// Factory builds and owns the external connections. Close releases
// everything it created.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	mqttCli  *mqtt.Client
	closers  []func() error
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	for i := 0; i < 5; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying in 2s", "attempt", i+1, "max", 5, "error", err)
		time.Sleep(2 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     f.cfg.Redis.Addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

func (f *Factory) mqttClient(ctx context.Context, clientID string) (*mqtt.Client, error) {
	if f.mqttCli != nil {
		return f.mqttCli, nil
	}

	c := mqtt.NewClient(mqtt.Config{
		BrokerURL:   f.cfg.MQTT.BrokerURL(),
		Username:    f.cfg.MQTT.Username,
		Password:    f.cfg.MQTT.Password,
		ClientID:    clientID,
		QoS:         f.cfg.MQTT.QoS,
		ConnectWait: f.cfg.MQTT.ConnectWait,
	}, f.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	f.mqttCli = c
	f.closers = append(f.closers, c.Close)
	return c, nil
}

// Subscriber returns the transport selected by transport.kind.
func (f *Factory) Subscriber(ctx context.Context) (transport.Subscriber, error) {
	switch f.cfg.Transport.Kind {
	case config.TransportKafka:
		c := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     f.cfg.Kafka.Brokers,
			GroupID:     f.cfg.Kafka.GroupID,
			StartOffset: f.cfg.Kafka.StartOffset,
		}, f.logger)
		f.closers = append(f.closers, c.Close)
		return c, nil
	default:
		return f.mqttClient(ctx, f.cfg.MQTT.ClientID)
	}
}

// Publisher returns a publisher on the selected transport. The MQTT client id
// gets a suffix so it can run next to the service.
func (f *Factory) Publisher(ctx context.Context) (transport.Publisher, error) {
	switch f.cfg.Transport.Kind {
	case config.TransportKafka:
		p := kafka.NewProducer(kafka.ProducerConfig{Brokers: f.cfg.Kafka.Brokers})
		f.closers = append(f.closers, p.Close)
		return p, nil
	default:
		return f.mqttClient(ctx, f.cfg.MQTT.ClientID+"-publisher")
	}
}

func (f *Factory) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil {
			f.logger.Error("failed to close transport", "error", err)
		}
	}
	f.closers = nil

	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}
