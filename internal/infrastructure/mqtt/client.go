package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	BrokerURL   string
	Username    string
	Password    string
	ClientID    string
	QoS         byte
	ConnectWait time.Duration
}

// Client is a paho backed transport. Subscriptions are replayed on every
// reconnect so a broker restart does not silently stop ingestion.
type Client struct {
	client paho.Client
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]transport.Handler
}

var (
	_ transport.Subscriber = (*Client)(nil)
	_ transport.Publisher  = (*Client)(nil)
)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = 10 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]transport.Handler),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "broker", cfg.BrokerURL, "error", err)
		})

	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", c.cfg.BrokerURL, err)
	}
	c.logger.Info("connected to mqtt broker", "broker", c.cfg.BrokerURL, "client_id", c.cfg.ClientID)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topics []string, h transport.Handler) error {
	c.mu.Lock()
	for _, topic := range topics {
		c.subs[topic] = h
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.wait(ctx, c.client.Subscribe(topic, c.cfg.QoS, messageHandler(h))); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		c.logger.Info("subscribed", "topic", topic, "qos", c.cfg.QoS)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.wait(ctx, c.client.Publish(topic, c.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Close() error {
	if !c.client.IsConnectionOpen() {
		return nil
	}
	c.client.Disconnect(250)
	c.logger.Info("disconnected from mqtt broker")
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic, h := range c.subs {
		token := client.Subscribe(topic, c.cfg.QoS, messageHandler(h))
		if !token.WaitTimeout(c.cfg.ConnectWait) {
			c.logger.Error("timed out resubscribing", "topic", topic, "wait", c.cfg.ConnectWait.String())
		} else if err := token.Error(); err != nil {
			c.logger.Error("failed to resubscribe", "topic", topic, "error", err)
		}
	}
}

func (c *Client) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(c.cfg.ConnectWait)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out waiting for broker")
	}
}

func messageHandler(h transport.Handler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}
}
