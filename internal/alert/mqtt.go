package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttQoS is at-least-once delivery; speakers tolerate repeats.
const mqttQoS = 1

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string

	// ConnectTimeout bounds the initial connection and each publish.
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes alerts to <prefix>/<camera_id>/alerts for the
// on-site broadcast speakers.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the first successful connection.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker url is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sitewatch"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sitewatch"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	logger = logger.With("component", "mqtt_publisher", "broker", cfg.BrokerURL)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	// Unique per process so replicas do not kick each other off the broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		timeout: cfg.ConnectTimeout,
		logger:  logger,
	}, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Topic returns the alert topic for cameraID.
func (p *MQTTPublisher) Topic(cameraID string) string {
	return AlertTopic(p.prefix, cameraID)
}

// AlertTopic builds the alert topic for cameraID under prefix.
func AlertTopic(prefix, cameraID string) string {
	return fmt.Sprintf("%s/%s/alerts", strings.TrimSuffix(prefix, "/"), cameraID)
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}

	topic := p.Topic(msg.CameraID)
	token := p.client.Publish(topic, mqttQoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
