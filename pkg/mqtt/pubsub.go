package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connTimeout    = 10 * time.Second
	maxReconnect   = time.Minute
	disconnQuiesce = 250
)

var (
	ErrEmptyAddress = errors.New("empty broker address")
	ErrEmptyID      = errors.New("empty client ID")

	errPublishTimeout     = errors.New("failed to publish due to timeout reached")
	errSubscribeTimeout   = errors.New("failed to subscribe due to timeout reached")
	errUnsubscribeTimeout = errors.New("failed to unsubscribe due to timeout reached")
	errConnectTimeout     = errors.New("timeout reached while connecting to MQTT broker")
	errEmptyTopic         = errors.New("empty topic")
)

const (
	onlinePayloadTemplate  = `{"status":"online","client_id":"%s"}`
	offlinePayloadTemplate = `{"status":"offline","client_id":"%s"}`
)

// Config holds the broker connection settings. When StatusTopic is set the
// client announces itself there on connect and leaves a retained offline
// will message.
type Config struct {
	Address     string        `env:"ADDRESS"`
	ClientID    string        `env:"CLIENT_ID"`
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	QoS         byte          `env:"QOS"          envDefault:"1"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"30s"`
	StatusTopic string        `env:"STATUS_TOPIC"`
}

type pubsub struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	// mu guards closed and the Add calls on handlers.
	mu       sync.Mutex
	closed   bool
	handlers sync.WaitGroup
}

type Handler func(topic string, msg map[string]any) error

type PubSub interface {
	Publish(ctx context.Context, topic string, msg any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect(ctx context.Context) error
}

func NewPubSub(cfg Config, logger *slog.Logger) (PubSub, error) {
	switch {
	case cfg.Address == "":
		return nil, ErrEmptyAddress
	case cfg.ClientID == "":
		return nil, ErrEmptyID
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &pubsub{
		client:  client,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (ps *pubsub) Publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return errEmptyTopic
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return ps.wait(ctx, ps.client.Publish(topic, ps.qos, false, data), errPublishTimeout)
}

func (ps *pubsub) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return errEmptyTopic
	}

	return ps.wait(ctx, ps.client.Subscribe(topic, ps.qos, ps.mqttHandler(handler)), errSubscribeTimeout)
}

func (ps *pubsub) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return errEmptyTopic
	}

	return ps.wait(ctx, ps.client.Unsubscribe(topic), errUnsubscribeTimeout)
}

// Disconnect stops accepting messages, waits for running handlers until ctx
// is done and closes the connection.
func (ps *pubsub) Disconnect(ctx context.Context) error {
	ps.mu.Lock()
	ps.closed = true
	ps.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ps.handlers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	ps.client.Disconnect(disconnQuiesce)

	return err
}

// wait blocks until the token completes, the client timeout elapses or ctx
// is done.
func (ps *pubsub) wait(ctx context.Context, token mqtt.Token, timeoutErr error) error {
	timer := time.NewTimer(ps.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return timeoutErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newClient(cfg Config, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Address).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout).
		SetMaxReconnectInterval(maxReconnect)

	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, fmt.Sprintf(offlinePayloadTemplate, cfg.ClientID), 0, true)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connection established", slog.String("broker", cfg.Address))
		if cfg.StatusTopic != "" {
			c.Publish(cfg.StatusTopic, 0, true, fmt.Sprintf(onlinePayloadTemplate, cfg.ClientID))
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, options *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting", slog.String("client_id", options.ClientID))
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, errors.Join(errors.New("failed to connect to MQTT broker"), err)
	}

	return client, nil
}

// mqttHandler runs h off the client's message router goroutine. Handlers
// may publish and wait for the acknowledgement.
func (ps *pubsub) mqttHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		var msg map[string]any
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			ps.logger.Warn("failed to decode MQTT message", slog.String("topic", m.Topic()), slog.Any("error", err))
			m.Ack()

			return
		}

		ps.mu.Lock()
		if ps.closed {
			ps.mu.Unlock()
			ps.logger.Debug("dropping MQTT message after disconnect", slog.String("topic", m.Topic()))
			m.Ack()

			return
		}
		ps.handlers.Add(1)
		ps.mu.Unlock()

		go func() {
			defer ps.handlers.Done()
			defer m.Ack()

			if err := h(m.Topic(), msg); err != nil {
				ps.logger.Warn("failed to handle MQTT message", slog.String("topic", m.Topic()), slog.Any("error", err))
			}
		}()
	}
}
